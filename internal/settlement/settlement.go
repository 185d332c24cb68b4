// Package settlement reconciles payment provider callbacks with pending deposits.
// A deposit is resolved once; replays and callbacks for unknown or foreign
// deposits change nothing.
package settlement

import (
	"atlas_trader/internal/config"
	"atlas_trader/internal/domain"
	"atlas_trader/internal/ledger"
	"atlas_trader/internal/store"
	"context"
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ErrInvalidCurrency is returned for anything but a three letter code
var ErrInvalidCurrency = errors.New("currency must be a three letter code")

// Store is the persistence settlement needs
type Store interface {
	CreateDeposit(ctx context.Context, d *domain.Deposit) error
	GetDeposit(ctx context.Context, depositID string) (*domain.Deposit, error)
	Settle(ctx context.Context, p store.SettleParams) (*store.SettleResult, error)
}

// Intent starts a checkout
type Intent struct {
	DepositID string // Optional, generated when empty
	Amount    int64  // Minor units, defaults to the subscription amount
	Currency  string // Defaults to the subscription currency
}

// Callback is one provider result to apply
type Callback struct {
	AccountID      string // Caller's account, empty for signed webhooks
	DepositID      string // Deposit named by the provider
	ProviderStatus string // Raw provider status
	Source         string // domain.SourceClient or domain.SourceWebhook
}

// Result reports what a callback did
type Result struct {
	Deposit  domain.Deposit
	Status   string                // Normalized status of this callback
	Replayed bool                  // Deposit was already resolved, nothing changed
	Account  *domain.Account       // Account after a successful settlement
	Payment  *domain.PaymentRecord // Appended record
}

// Service runs checkouts and settlements
type Service struct {
	store  Store
	ledger *ledger.Ledger
	cfg    config.PaymentConfig
	log    *logrus.Logger
	now    func() time.Time
}

// NewService creates a settlement Service
func NewService(s Store, l *ledger.Ledger, cfg config.PaymentConfig, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: s, ledger: l, cfg: cfg, log: log, now: time.Now}
}

// NormalizeStatus maps provider vocabulary onto success or failed
func NormalizeStatus(providerStatus string) string {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "SUCCESSFUL", "SUCCESS", "COMPLETED":
		return domain.DepositSuccess
	default:
		return domain.DepositFailed
	}
}

// Initiate records a pending deposit for accountID
func (s *Service) Initiate(ctx context.Context, accountID string, in Intent) (*domain.Deposit, error) {
	if in.Amount == 0 {
		in.Amount = s.cfg.SubscriptionAmount
	}
	if in.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if in.Currency == "" {
		in.Currency = s.cfg.SubscriptionCurrency
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if !currencyPattern.MatchString(in.Currency) {
		return nil, ErrInvalidCurrency
	}
	if in.DepositID == "" {
		in.DepositID = uuid.NewString()
	}
	dep := &domain.Deposit{
		DepositID: in.DepositID,
		AccountID: accountID,
		Amount:    in.Amount,
		Currency:  in.Currency,
	}
	if err := s.store.CreateDeposit(ctx, dep); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"deposit_id": dep.DepositID,
		"amount":     dep.Amount,
		"currency":   dep.Currency,
	}).Info("Deposit initiated")
	return dep, nil
}

// PaymentURL builds the hosted payment page link for a deposit
func (s *Service) PaymentURL(d *domain.Deposit) string {
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(d.Amount, 10))
	q.Set("currency", d.Currency)
	q.Set("depositId", d.DepositID)
	sep := "?"
	if strings.Contains(s.cfg.PaymentPageURL, "?") {
		sep = "&"
	}
	return s.cfg.PaymentPageURL + sep + q.Encode()
}

// Settle applies a provider result to its deposit exactly once
func (s *Service) Settle(ctx context.Context, cb Callback) (*Result, error) {
	status := NormalizeStatus(cb.ProviderStatus)
	now := s.now()
	res, err := s.store.Settle(ctx, store.SettleParams{
		DepositID:   cb.DepositID,
		AccountID:   cb.AccountID,
		Status:      status,
		Source:      cb.Source,
		SellerUntil: now.Add(time.Duration(s.cfg.SellerPeriodDays) * 24 * time.Hour).UTC(),
		TokenGrant:  s.cfg.TokenGrant,
	})
	fields := logrus.Fields{
		"account_id": cb.AccountID,
		"deposit_id": cb.DepositID,
		"status":     status,
		"source":     cb.Source,
	}
	settlements := s.ledger.Metrics().Settlements
	switch {
	case errors.Is(err, domain.ErrUntrustedCallback):
		settlements.WithLabelValues("untrusted").Inc()
		s.log.WithFields(fields).Warn("Ignored callback for unknown or foreign deposit")
		return nil, err
	case err != nil:
		settlements.WithLabelValues("error").Inc()
		fields["error"] = err.Error()
		s.log.WithFields(fields).Error("Settlement failed")
		return nil, err
	}

	out := &Result{Deposit: res.Deposit, Status: status, Replayed: !res.Applied, Account: res.Account, Payment: res.Payment}
	if out.Replayed {
		settlements.WithLabelValues("replayed").Inc()
		fields["resolved_status"] = res.Deposit.Status
		s.log.WithFields(fields).Info("Deposit already resolved")
		return out, nil
	}
	settlements.WithLabelValues(status).Inc()
	if status == domain.DepositSuccess && s.cfg.TokenGrant > 0 {
		s.ledger.Metrics().TokensCredited.WithLabelValues(domain.ReasonPaymentGrant).Add(float64(s.cfg.TokenGrant))
	}
	fields["amount"] = res.Deposit.Amount
	s.log.WithFields(fields).Info("Deposit settled")
	s.ledger.Changed(ctx, res.Account)
	return out, nil
}

// Deposit returns a deposit if it belongs to accountID
func (s *Service) Deposit(ctx context.Context, accountID, depositID string) (*domain.Deposit, error) {
	dep, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if dep.AccountID != accountID {
		return nil, domain.ErrDepositNotFound
	}
	return dep, nil
}
