// Package store is the durable Balance Store. Every balance change goes through
// a conditional update guarded by the account version, so concurrent writers on
// one account serialize while different accounts never contend.
package store

import (
	"atlas_trader/internal/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"gorm.io/gorm"
)

// Options tunes timeouts and the optimistic retry loop
type Options struct {
	Timeout    time.Duration // Bound for a single store call
	MaxRetries int           // Retries after a lost CAS race
	BaseDelay  time.Duration // First backoff delay
	MaxDelay   time.Duration // Backoff ceiling
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		Timeout:    5 * time.Second,
		MaxRetries: 10,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   200 * time.Millisecond,
	}
}

// BalanceStore is the account surface the ledger works against
type BalanceStore interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ConditionalUpdate(ctx context.Context, id string, m Mutation) (*domain.Account, error)
	Increment(ctx context.Context, id string, delta int64, reason, reference string) (*domain.Account, error)
}

var _ BalanceStore = (*Store)(nil)

// Store is the gorm-backed Balance Store
type Store struct {
	db      *gorm.DB
	opts    Options
	retry   retrypolicy.RetryPolicy[any]
	nowFunc func() time.Time
}

// New creates a Store on top of an open gorm connection
func New(db *gorm.DB, opts Options) *Store {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	retry := retrypolicy.NewBuilder[any]().
		HandleErrors(domain.ErrConflict).
		WithMaxRetries(opts.MaxRetries).
		WithBackoff(opts.BaseDelay, opts.MaxDelay).
		WithJitterFactor(0.25).
		ReturnLastFailure().
		Build()
	return &Store{db: db, opts: opts, retry: retry, nowFunc: time.Now}
}

// DB exposes the underlying connection for health checks
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) now() time.Time {
	return s.nowFunc().UTC()
}

// withTimeout bounds a store call so a stalled database surfaces as unavailable
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// runCAS repeats attempt while it reports ErrConflict
func (s *Store) runCAS(attempt func() error) error {
	return failsafe.With[any](s.retry).Run(attempt)
}

// classify keeps domain outcomes intact and turns everything else into ErrStoreUnavailable
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrDuplicateDeposit),
		errors.Is(err, domain.ErrDepositNotFound),
		errors.Is(err, domain.ErrUntrustedCallback),
		errors.Is(err, domain.ErrInvalidAmount):
		return err
	case errors.Is(err, domain.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
}

// Page describes one page of a listing
type Page struct {
	Page     int // 1-based page number
	PageSize int // Rows per page
}

// Offset returns the row offset of the page
func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// NormalizePage clamps page and size to sane bounds
func NormalizePage(page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return Page{Page: page, PageSize: size}
}
