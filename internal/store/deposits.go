package store

import (
	"atlas_trader/internal/domain"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettleParams carries one settlement attempt
type SettleParams struct {
	DepositID   string    // Deposit named by the callback
	AccountID   string    // Caller's account; empty trusts the deposit owner (signed webhook)
	Status      string    // Normalized terminal status: success or failed
	Source      string    // client or webhook
	SellerUntil time.Time // Seller expiry to grant on success
	TokenGrant  int64     // Tokens to credit on success, 0 for none
}

// SettleResult reports the settlement outcome
type SettleResult struct {
	Deposit domain.Deposit        // Deposit after the attempt
	Applied bool                  // False on a replay of a resolved deposit
	Account *domain.Account       // Account after the effects, nil on replay
	Payment *domain.PaymentRecord // Appended record, nil on replay
}

// CreateDeposit stores a new initiated deposit
func (s *Store) CreateDeposit(ctx context.Context, d *domain.Deposit) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	d.Status = domain.DepositInitiated
	d.ResolvedAt = nil
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(d)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrDuplicateDeposit
	}
	return nil
}

// GetDeposit returns one deposit by id
func (s *Store) GetDeposit(ctx context.Context, depositID string) (*domain.Deposit, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var d domain.Deposit
	if err := s.db.WithContext(ctx).First(&d, "deposit_id = ?", depositID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDepositNotFound
		}
		return nil, classify(err)
	}
	return &d, nil
}

// Settle resolves an initiated deposit and applies its effects in one transaction.
// Unknown deposits and deposits of another account yield ErrUntrustedCallback.
// A deposit that is already resolved is left untouched and reported with Applied false.
func (s *Store) Settle(ctx context.Context, p SettleParams) (*SettleResult, error) {
	if p.Status != domain.DepositSuccess && p.Status != domain.DepositFailed {
		return nil, errors.New("settle: status must be success or failed")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	result := &SettleResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dep domain.Deposit
		if err := tx.First(&dep, "deposit_id = ?", p.DepositID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUntrustedCallback
			}
			return err
		}
		if p.AccountID != "" && dep.AccountID != p.AccountID {
			return domain.ErrUntrustedCallback
		}
		now := s.now()
		// Only the first transition out of initiated wins
		res := tx.Model(&domain.Deposit{}).
			Where("deposit_id = ? AND status = ?", dep.DepositID, domain.DepositInitiated).
			Updates(map[string]any{"status": p.Status, "resolved_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&dep, "deposit_id = ?", dep.DepositID).Error; err != nil {
				return err
			}
			result.Deposit = dep
			return nil
		}
		dep.Status = p.Status
		dep.ResolvedAt = &now
		result.Deposit = dep
		result.Applied = true

		if p.Status == domain.DepositSuccess {
			acct, err := s.grantSellerTx(tx, dep, p, now)
			if err != nil {
				return err
			}
			result.Account = acct
		}
		payment := domain.PaymentRecord{
			AccountID: dep.AccountID,
			DepositID: dep.DepositID,
			Amount:    dep.Amount,
			Currency:  dep.Currency,
			Status:    p.Status,
			Source:    p.Source,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		result.Payment = &payment
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// grantSellerTx sets seller status and credits the optional token grant
func (s *Store) grantSellerTx(tx *gorm.DB, dep domain.Deposit, p SettleParams, now time.Time) (*domain.Account, error) {
	until := p.SellerUntil
	res := tx.Model(&domain.Account{}).Where("id = ?", dep.AccountID).Updates(map[string]any{
		"is_seller_verified": true,
		"seller_until":       until,
		"version":            gorm.Expr("version + ?", 1),
		"updated_at":         now,
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrAccountNotFound
	}
	if p.TokenGrant > 0 {
		return s.incrementTx(tx, dep.AccountID, p.TokenGrant, domain.ReasonPaymentGrant, dep.DepositID)
	}
	var acct domain.Account
	if err := tx.First(&acct, "id = ?", dep.AccountID).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

// PaymentFilter narrows a payments listing
type PaymentFilter struct {
	AccountID string // Only this account when set
	Status    string // Only this status when set
}

// ListPayments returns one page of payment records, newest first
func (s *Store) ListPayments(ctx context.Context, f PaymentFilter, p Page) ([]domain.PaymentRecord, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	q := s.db.WithContext(ctx).Model(&domain.PaymentRecord{})
	if f.AccountID != "" {
		q = q.Where("account_id = ?", f.AccountID) // Filter by account
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status) // Filter by status
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	var records []domain.PaymentRecord
	if err := q.Order("id desc").Offset(p.Offset()).Limit(p.PageSize).Find(&records).Error; err != nil {
		return nil, 0, classify(err)
	}
	return records, total, nil
}
