// Package ledger debits and credits token balances on top of the Balance Store.
package ledger

import (
	"atlas_trader/internal/domain"
	"atlas_trader/internal/metrics"
	"atlas_trader/internal/store"
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Notifier is told about every committed balance change
type Notifier interface {
	AccountChanged(ctx context.Context, acct *domain.Account)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, acct *domain.Account)

// AccountChanged calls f
func (f NotifierFunc) AccountChanged(ctx context.Context, acct *domain.Account) { f(ctx, acct) }

// Ledger applies Spend and Credit to accounts
type Ledger struct {
	store     store.BalanceStore
	metrics   *metrics.Metrics
	log       *logrus.Logger
	notifiers []Notifier
}

// New creates a Ledger. Notifiers run after each successful mutation.
func New(s store.BalanceStore, m *metrics.Metrics, log *logrus.Logger, notifiers ...Notifier) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{store: s, metrics: m, log: log, notifiers: notifiers}
}

// Spend debits amount when the balance covers it.
// It returns false with no mutation when the balance is too low.
func (l *Ledger) Spend(ctx context.Context, accountID string, amount int64, reason, reference string) (bool, error) {
	if amount <= 0 {
		return false, domain.ErrInvalidAmount
	}
	acct, err := l.store.ConditionalUpdate(ctx, accountID, store.Mutation{
		Reason:    reason,
		Reference: reference,
		Apply: func(a *domain.Account) error {
			if a.TokenBalance < amount {
				return domain.ErrInsufficientFunds
			}
			a.TokenBalance -= amount
			return nil
		},
	})
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		l.metrics.Spends.WithLabelValues("insufficient").Inc()
		return false, nil
	case err != nil:
		l.metrics.Spends.WithLabelValues("error").Inc()
		l.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"amount":     amount,
			"reason":     reason,
			"error":      err.Error(),
		}).Error("Spend failed")
		return false, err
	}
	l.metrics.Spends.WithLabelValues("ok").Inc()
	l.metrics.TokensSpent.WithLabelValues(reason).Add(float64(amount))
	l.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"amount":     amount,
		"reason":     reason,
		"reference":  reference,
		"balance":    acct.TokenBalance,
	}).Info("Tokens spent")
	l.Changed(ctx, acct)
	return true, nil
}

// Credit adds amount to the balance
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64, reason, reference string) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	acct, err := l.store.Increment(ctx, accountID, amount, reason, reference)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"amount":     amount,
			"reason":     reason,
			"error":      err.Error(),
		}).Error("Credit failed")
		return err
	}
	l.metrics.TokensCredited.WithLabelValues(reason).Add(float64(amount))
	l.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"amount":     amount,
		"reason":     reason,
		"reference":  reference,
		"balance":    acct.TokenBalance,
	}).Info("Tokens credited")
	l.Changed(ctx, acct)
	return nil
}

// Balance returns the current account row
func (l *Ledger) Balance(ctx context.Context, accountID string) (*domain.Account, error) {
	return l.store.GetAccount(ctx, accountID)
}

// Changed fans a committed account state out to every notifier.
// Referral and settlement call it for the writes they commit themselves.
func (l *Ledger) Changed(ctx context.Context, acct *domain.Account) {
	if acct == nil {
		return
	}
	for _, n := range l.notifiers {
		n.AccountChanged(ctx, acct)
	}
}

// Metrics exposes the collectors shared with the ledger's callers
func (l *Ledger) Metrics() *metrics.Metrics {
	return l.metrics
}
