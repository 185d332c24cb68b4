package domain

import "time"

// Deposit statuses
const (
	DepositInitiated = "initiated"
	DepositSuccess   = "success"
	DepositFailed    = "failed"
)

// Payment record sources
const (
	SourceClient  = "client"
	SourceWebhook = "webhook"
)

// Deposit Model, one checkout attempt
type Deposit struct {
	DepositID  string     `gorm:"primaryKey;size:64" json:"deposit_id"`     // Checkout attempt id
	AccountID  string     `gorm:"index;size:36;not null" json:"account_id"` // Initiating account
	Amount     int64      `gorm:"not null" json:"amount"`                   // Minor units
	Currency   string     `gorm:"size:3;not null" json:"currency"`          // ISO 4217 code
	Status     string     `gorm:"size:16;not null;index" json:"status"`     // initiated, success, failed
	CreatedAt  time.Time  `json:"created_at"`                               // Creation time
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`                    // Set once, on settlement
}

// Resolved reports whether the deposit already reached a terminal status.
func (d Deposit) Resolved() bool {
	return d.Status != DepositInitiated
}

// PaymentRecord Model, append-only settlement audit log
type PaymentRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`                     // Primary key
	AccountID string    `gorm:"index;size:36;not null" json:"account_id"` // Paying account
	DepositID string    `gorm:"index;size:64;not null" json:"deposit_id"` // Settled deposit
	Amount    int64     `gorm:"not null" json:"amount"`                   // Minor units
	Currency  string    `gorm:"size:3;not null" json:"currency"`          // ISO 4217 code
	Status    string    `gorm:"size:16;not null" json:"status"`           // success or failed
	Source    string    `gorm:"size:16;not null" json:"source"`           // client or webhook
	CreatedAt time.Time `json:"created_at"`                               // Timestamp of creation
}

// TableName keeps the payments collection name
func (PaymentRecord) TableName() string { return "payments" }
