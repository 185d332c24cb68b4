package store

import (
	"atlas_trader/internal/domain"
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralResult reports what ApplyReferral did
type ReferralResult struct {
	Applied  bool            // False when the referee was already rewarded
	Referrer *domain.Account // Referrer after the credit
	Referee  *domain.Account // Referee after the credit
}

// ApplyReferral records rec and credits both sides by rec.Bonus, exactly once per referee.
// The referral row is keyed by the referee id; if it already exists nothing is credited.
func (s *Store) ApplyReferral(ctx context.Context, rec domain.ReferralRecord) (*ReferralResult, error) {
	if rec.Bonus <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	result := &ReferralResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // Already applied for this referee
		}
		referrer, err := s.incrementTx(tx, rec.ReferrerID, rec.Bonus, domain.ReasonReferralReferrer, rec.RefereeID)
		if err != nil {
			return err
		}
		referee, err := s.incrementTx(tx, rec.RefereeID, rec.Bonus, domain.ReasonReferralReferee, rec.RefereeID)
		if err != nil {
			return err
		}
		result.Applied = true
		result.Referrer = referrer
		result.Referee = referee
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// GetReferral returns the referral recorded for a referee, if any
func (s *Store) GetReferral(ctx context.Context, refereeID string) (*domain.ReferralRecord, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var rec domain.ReferralRecord
	res := s.db.WithContext(ctx).Where("referee_id = ?", refereeID).Limit(1).Find(&rec)
	if res.Error != nil {
		return nil, false, classify(res.Error)
	}
	return &rec, res.RowsAffected > 0, nil
}

// CountReferrals returns how many sign-ups a referrer brought in
func (s *Store) CountReferrals(ctx context.Context, referrerID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int64
	if err := s.db.WithContext(ctx).Model(&domain.ReferralRecord{}).Where("referrer_id = ?", referrerID).Count(&n).Error; err != nil {
		return 0, classify(err)
	}
	return n, nil
}
