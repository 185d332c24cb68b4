package domain

import "time"

// ReferralRecord marks that the bonus for one new account was applied.
// RefereeID is the primary key, so a second insert for the same sign-up is a no-op.
type ReferralRecord struct {
	RefereeID  string    `gorm:"primaryKey;size:36" json:"referee_id"`      // New account id
	ReferrerID string    `gorm:"index;size:36;not null" json:"referrer_id"` // Credited referrer
	Code       string    `gorm:"size:32;not null" json:"code"`              // Code supplied at sign-up
	Bonus      int64     `gorm:"not null" json:"bonus"`                     // Bonus granted to each side
	CreatedAt  time.Time `json:"created_at"`
}

// TableName keeps the referrals table name short
func (ReferralRecord) TableName() string { return "referrals" }
