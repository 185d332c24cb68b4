package domain

import "time"

// Account holds the token balance and seller status of one user
type Account struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`                      // Same id as the owning User
	TokenBalance     int64      `gorm:"not null;default:0" json:"token_balance"`           // Never negative
	ReferralCode     string     `gorm:"uniqueIndex;size:32;not null" json:"referral_code"` // Immutable after creation
	IsSellerVerified bool       `gorm:"not null;default:false" json:"is_seller_verified"`  // Set only by settlement
	SellerUntil      *time.Time `json:"seller_until,omitempty"`                            // Expiry of seller status
	Version          int64      `gorm:"not null;default:0" json:"version"`                 // Optimistic concurrency counter
	CreatedAt        time.Time  `json:"created_at"`                                        // Creation time
	UpdatedAt        time.Time  `json:"updated_at"`                                        // Last write time
}

// SellerActive reports whether seller status is granted and not yet expired at now.
func (a Account) SellerActive(now time.Time) bool {
	return a.IsSellerVerified && a.SellerUntil != nil && now.Before(*a.SellerUntil)
}
