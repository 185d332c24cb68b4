package domain

import "time"

// LedgerEntry Model, one row per balance movement
type LedgerEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`                     // Primary key
	AccountID    string    `gorm:"index;size:36;not null" json:"account_id"` // Account whose balance moved
	Delta        int64     `gorm:"not null" json:"delta"`                    // Signed amount
	Reason       string    `gorm:"size:64;not null" json:"reason"`           // e.g. spend:chat, referral:referrer
	Reference    string    `gorm:"size:64" json:"reference,omitempty"`       // Action, referee or deposit id
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`            // Balance once applied
	CreatedAt    time.Time `gorm:"index" json:"created_at"`                  // Timestamp of creation
}

// Ledger reasons
const (
	ReasonSignup           = "signup"
	ReasonReferralReferrer = "referral:referrer"
	ReasonReferralReferee  = "referral:referee"
	ReasonPaymentGrant     = "payment:grant"
	ReasonCredit           = "credit"
)

// SpendReason tags a debit with the priced action.
func SpendReason(action string) string { return "spend:" + action }

// RefundReason tags the credit that returns a failed action's tokens.
func RefundReason(action string) string { return "refund:" + action }
