package domain

import "errors"

var (
	// ErrInsufficientFunds aborts a conditional debit; Spend reports it as false.
	ErrInsufficientFunds = errors.New("insufficient tokens")

	// ErrStoreUnavailable is transient and safe to retry.
	ErrStoreUnavailable = errors.New("balance store unavailable")

	// ErrConflict signals a lost optimistic-concurrency race.
	ErrConflict = errors.New("concurrent modification")

	// ErrUntrustedCallback covers callbacks for unknown or foreign deposits.
	ErrUntrustedCallback = errors.New("untrusted settlement callback")

	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrDuplicateDeposit    = errors.New("deposit already exists")
	ErrDepositNotFound     = errors.New("deposit not found")
	ErrInvalidReferralCode = errors.New("invalid referral code")
)
