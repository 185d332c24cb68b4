package store

import (
	"atlas_trader/internal/domain"
	"context"
	"errors"

	"gorm.io/gorm"
)

// Mutation describes one conditional update of an account.
// Apply sees the current row and edits it in place; returning an error aborts
// without writing. A change in TokenBalance is recorded in the ledger under
// Reason and Reference.
type Mutation struct {
	Reason    string
	Reference string
	Apply     func(acct *domain.Account) error
}

// CreateAccount writes the user and its account in one transaction
func (s *Store) CreateAccount(ctx context.Context, user *domain.User, acct *domain.Account) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if acct.TokenBalance < 0 {
		return domain.ErrInvalidAmount
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if user != nil {
			if err := tx.Create(user).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(acct).Error; err != nil {
			return err
		}
		if acct.TokenBalance == 0 {
			return nil
		}
		// Opening balance is the first ledger movement
		return tx.Create(&domain.LedgerEntry{
			AccountID:    acct.ID,
			Delta:        acct.TokenBalance,
			Reason:       domain.ReasonSignup,
			Reference:    acct.ID,
			BalanceAfter: acct.TokenBalance,
		}).Error
	})
	return classify(err)
}

// GetAccount returns the current row of an account
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var acct domain.Account
	if err := s.db.WithContext(ctx).First(&acct, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classify(err)
	}
	return &acct, nil
}

// FindByReferralCode resolves a referral code to its account
func (s *Store) FindByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var acct domain.Account
	if err := s.db.WithContext(ctx).First(&acct, "referral_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classify(err)
	}
	return &acct, nil
}

// ReferralCodeExists reports whether a code is already taken
func (s *Store) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Account{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
		return false, classify(err)
	}
	return count > 0, nil
}

// ConditionalUpdate applies m with compare-and-swap on the account version.
// A lost race re-reads the row and re-runs Apply, up to the configured retries.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, m Mutation) (*domain.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var out domain.Account
	err := s.runCAS(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var acct domain.Account
			if err := tx.First(&acct, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrAccountNotFound
				}
				return err
			}
			before := acct
			if err := m.Apply(&acct); err != nil {
				return err
			}
			if acct.TokenBalance < 0 {
				return domain.ErrInsufficientFunds
			}
			acct.ID = before.ID                     // Identity is not mutable
			acct.ReferralCode = before.ReferralCode // Neither is the referral code
			acct.Version = before.Version + 1
			acct.UpdatedAt = s.now()
			res := tx.Model(&domain.Account{}).
				Where("id = ? AND version = ?", id, before.Version).
				Updates(map[string]any{
					"token_balance":      acct.TokenBalance,
					"is_seller_verified": acct.IsSellerVerified,
					"seller_until":       acct.SellerUntil,
					"version":            acct.Version,
					"updated_at":         acct.UpdatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return domain.ErrConflict // Someone else wrote first
			}
			if delta := acct.TokenBalance - before.TokenBalance; delta != 0 {
				entry := domain.LedgerEntry{
					AccountID:    id,
					Delta:        delta,
					Reason:       m.Reason,
					Reference:    m.Reference,
					BalanceAfter: acct.TokenBalance,
				}
				if err := tx.Create(&entry).Error; err != nil {
					return err
				}
			}
			out = acct
			return nil
		})
	})
	if err != nil {
		return nil, classify(err)
	}
	return &out, nil
}

// Increment adds delta to the balance with a single atomic expression
func (s *Store) Increment(ctx context.Context, id string, delta int64, reason, reference string) (*domain.Account, error) {
	if delta <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var out *domain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := s.incrementTx(tx, id, delta, reason, reference)
		out = acct
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// incrementTx credits an account inside an open transaction and logs the movement
func (s *Store) incrementTx(tx *gorm.DB, id string, delta int64, reason, reference string) (*domain.Account, error) {
	res := tx.Model(&domain.Account{}).Where("id = ?", id).Updates(map[string]any{
		"token_balance": gorm.Expr("token_balance + ?", delta),
		"version":       gorm.Expr("version + ?", 1),
		"updated_at":    s.now(),
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrAccountNotFound
	}
	var acct domain.Account
	if err := tx.First(&acct, "id = ?", id).Error; err != nil {
		return nil, err
	}
	entry := domain.LedgerEntry{
		AccountID:    id,
		Delta:        delta,
		Reason:       reason,
		Reference:    reference,
		BalanceAfter: acct.TokenBalance,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

// ListAccounts returns one page of accounts, newest first
func (s *Store) ListAccounts(ctx context.Context, p Page) ([]domain.Account, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	q := s.db.WithContext(ctx).Model(&domain.Account{}).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	var accounts []domain.Account
	if err := q.Order("created_at desc").Offset(p.Offset()).Limit(p.PageSize).Find(&accounts).Error; err != nil {
		return nil, 0, classify(err)
	}
	return accounts, total, nil
}

// ListLedger returns one page of an account's ledger entries, newest first
func (s *Store) ListLedger(ctx context.Context, accountID string, p Page) ([]domain.LedgerEntry, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	q := s.db.WithContext(ctx).Model(&domain.LedgerEntry{}).Where("account_id = ?", accountID).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	var entries []domain.LedgerEntry
	if err := q.Order("id desc").Offset(p.Offset()).Limit(p.PageSize).Find(&entries).Error; err != nil {
		return nil, 0, classify(err)
	}
	return entries, total, nil
}
