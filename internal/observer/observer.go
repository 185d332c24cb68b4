// Package observer pushes balance changes to every open session of an account.
// Snapshots travel over Redis pub/sub; each watcher starts from the stored state
// and only moves forward in version, so all watchers converge on the latest write.
// Pub/sub is at most once, so watchers also re-read the store periodically.
package observer

import (
	"atlas_trader/internal/domain"
	"atlas_trader/internal/metrics"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Snapshot is the observable state of an account
type Snapshot struct {
	AccountID        string     `json:"account_id"`
	TokenBalance     int64      `json:"token_balance"`
	IsSellerVerified bool       `json:"is_seller_verified"`
	SellerUntil      *time.Time `json:"seller_until,omitempty"`
	Version          int64      `json:"version"`
	At               time.Time  `json:"at"`
}

// SnapshotOf captures an account row
func SnapshotOf(acct *domain.Account, at time.Time) Snapshot {
	return Snapshot{
		AccountID:        acct.ID,
		TokenBalance:     acct.TokenBalance,
		IsSellerVerified: acct.IsSellerVerified,
		SellerUntil:      acct.SellerUntil,
		Version:          acct.Version,
		At:               at.UTC(),
	}
}

// AccountReader loads the current state a watcher starts from
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

// Channel is the pub/sub channel of one account
func Channel(accountID string) string {
	return "balance:" + accountID
}

// Broker publishes and subscribes to balance snapshots
type Broker struct {
	rdb      *redis.Client
	accounts AccountReader
	metrics  *metrics.Metrics
	log      *logrus.Logger
	resync   time.Duration // Store re-read interval per watcher, 0 disables
}

// DefaultResync bounds how long a watcher can miss a lost publish
const DefaultResync = 15 * time.Second

// NewBroker creates a Broker on top of a Redis client
func NewBroker(rdb *redis.Client, accounts AccountReader, m *metrics.Metrics, log *logrus.Logger) *Broker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broker{rdb: rdb, accounts: accounts, metrics: m, log: log, resync: DefaultResync}
}

// SetResync changes the store re-read interval of new subscriptions
func (b *Broker) SetResync(d time.Duration) {
	b.resync = d
}

// Publish sends snap to every watcher of its account
func (b *Broker) Publish(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := b.rdb.Publish(ctx, Channel(snap.AccountID), payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// AccountChanged publishes a committed account state.
// Failures are logged and counted; the write itself already succeeded.
func (b *Broker) AccountChanged(ctx context.Context, acct *domain.Account) {
	if err := b.Publish(ctx, SnapshotOf(acct, time.Now())); err != nil {
		b.metrics.PublishFailures.Inc()
		b.log.WithFields(logrus.Fields{
			"account_id": acct.ID,
			"version":    acct.Version,
			"error":      err.Error(),
		}).Warn("Balance publish failed")
	}
}

// Subscription delivers snapshots of one account in increasing version order
type Subscription struct {
	out     chan Snapshot
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// C returns the snapshot channel; it is closed when the subscription ends
func (s *Subscription) C() <-chan Snapshot {
	return s.out
}

// Close ends the subscription and waits for its goroutine. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
	return nil
}

// Subscribe starts watching accountID. The first snapshot is the stored state.
func (b *Broker) Subscribe(ctx context.Context, accountID string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, Channel(accountID))
	// Subscribe before reading so no write between the two is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to redis: %w", err)
	}
	acct, err := b.accounts.GetAccount(ctx, accountID)
	if err != nil {
		ps.Close()
		return nil, err
	}
	sub := &Subscription{
		out:     make(chan Snapshot, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	b.metrics.BalanceWatchers.Inc()
	go b.forward(ctx, ps, sub, accountID, SnapshotOf(acct, time.Now()))
	return sub, nil
}

// forward relays newer snapshots, keeping only the latest pending one for a slow reader
func (b *Broker) forward(ctx context.Context, ps *redis.PubSub, sub *Subscription, accountID string, initial Snapshot) {
	var tick <-chan time.Time
	if b.resync > 0 {
		ticker := time.NewTicker(b.resync)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		ps.Close()
		close(sub.out)
		b.metrics.BalanceWatchers.Dec()
		close(sub.stopped)
	}()
	in := ps.Channel()
	last := initial.Version
	pending := &initial
	for {
		var out chan<- Snapshot
		var next Snapshot
		if pending != nil {
			out = sub.out
			next = *pending
		}
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var snap Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				b.log.WithFields(logrus.Fields{
					"channel": msg.Channel,
					"error":   err.Error(),
				}).Warn("Dropping malformed balance snapshot")
				continue
			}
			if snap.Version <= last {
				continue // Stale or duplicate
			}
			last = snap.Version
			pending = &snap
		case <-tick:
			acct, err := b.accounts.GetAccount(ctx, accountID)
			if err != nil {
				b.log.WithFields(logrus.Fields{
					"account_id": accountID,
					"error":      err.Error(),
				}).Warn("Balance resync failed")
				continue
			}
			if acct.Version <= last {
				continue
			}
			snap := SnapshotOf(acct, time.Now())
			last = snap.Version
			pending = &snap
		case out <- next:
			pending = nil
		}
	}
}

// Watch calls onChange for the stored state and every newer snapshot until ctx ends
func (b *Broker) Watch(ctx context.Context, accountID string, onChange func(Snapshot)) error {
	sub, err := b.Subscribe(ctx, accountID)
	if err != nil {
		return err
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			onChange(snap)
		}
	}
}
