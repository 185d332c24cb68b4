// Package referral resolves referral codes at sign-up and pays the two-sided bonus once.
package referral

import (
	"atlas_trader/internal/domain"
	"atlas_trader/internal/ledger"
	"atlas_trader/internal/store"
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Outcome of resolving a supplied referral code
type Outcome string

const (
	NoCode      Outcome = "no_code"      // Nothing supplied
	Applied     Outcome = "applied"      // Bonus credited, now or earlier
	InvalidCode Outcome = "invalid_code" // Unknown code or self-referral
)

// Store is the persistence the engine needs
type Store interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	FindByReferralCode(ctx context.Context, code string) (*domain.Account, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	ApplyReferral(ctx context.Context, rec domain.ReferralRecord) (*store.ReferralResult, error)
	CreateAccount(ctx context.Context, user *domain.User, acct *domain.Account) error
}

// Engine applies referral bonuses
type Engine struct {
	store  Store
	ledger *ledger.Ledger
	base   int64
	bonus  int64
	log    *logrus.Logger
}

// NewEngine creates an Engine granting base tokens at sign-up and bonus to each side of a referral
func NewEngine(s Store, l *ledger.Ledger, base, bonus int64, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{store: s, ledger: l, base: base, bonus: bonus, log: log}
}

// NormalizeCode trims and upper-cases a user supplied code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Apply resolves code for a freshly created account and credits both sides.
// Applying the same referral again for one account never credits twice.
func (e *Engine) Apply(ctx context.Context, newAccountID, code string) (Outcome, error) {
	code = NormalizeCode(code)
	if code == "" {
		e.count(NoCode)
		return NoCode, nil
	}
	referrer, err := e.store.FindByReferralCode(ctx, code)
	if errors.Is(err, domain.ErrAccountNotFound) {
		e.log.WithFields(logrus.Fields{"account_id": newAccountID, "code": code}).Info("Unknown referral code")
		e.count(InvalidCode)
		return InvalidCode, nil
	}
	if err != nil {
		e.ledger.Metrics().Referrals.WithLabelValues("error").Inc()
		return "", err
	}
	if referrer.ID == newAccountID {
		e.log.WithField("account_id", newAccountID).Warn("Self-referral refused")
		e.count(InvalidCode)
		return InvalidCode, nil
	}

	res, err := e.store.ApplyReferral(ctx, domain.ReferralRecord{
		RefereeID:  newAccountID,
		ReferrerID: referrer.ID,
		Code:       code,
		Bonus:      e.bonus,
	})
	if err != nil {
		e.ledger.Metrics().Referrals.WithLabelValues("error").Inc()
		e.log.WithFields(logrus.Fields{
			"account_id":  newAccountID,
			"referrer_id": referrer.ID,
			"error":       err.Error(),
		}).Error("Referral bonus failed")
		return "", err
	}
	if !res.Applied {
		e.log.WithField("account_id", newAccountID).Info("Referral already applied")
		return Applied, nil
	}
	e.count(Applied)
	credited := float64(2 * e.bonus)
	e.ledger.Metrics().TokensCredited.WithLabelValues("referral").Add(credited)
	e.log.WithFields(logrus.Fields{
		"account_id":  newAccountID,
		"referrer_id": referrer.ID,
		"bonus":       e.bonus,
	}).Info("Referral bonus applied")
	e.ledger.Changed(ctx, res.Referrer)
	e.ledger.Changed(ctx, res.Referee)
	return Applied, nil
}

func (e *Engine) count(o Outcome) {
	e.ledger.Metrics().Referrals.WithLabelValues(string(o)).Inc()
}
