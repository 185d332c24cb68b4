package ledger

import (
	"atlas_trader/internal/config"
	"atlas_trader/internal/domain"
	"atlas_trader/internal/metrics"
	"atlas_trader/internal/store"
	"atlas_trader/internal/testutil"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	balances []int64
}

func (r *recorder) AccountChanged(_ context.Context, acct *domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = append(r.balances, acct.TokenBalance)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func setup(t *testing.T, initial int64) (*Ledger, *store.Store, *recorder, string) {
	t.Helper()
	s := store.New(testutil.NewDB(t), store.Options{MaxRetries: 200, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	id := uuid.NewString()
	require.NoError(t, s.CreateAccount(context.Background(), nil, &domain.Account{
		ID: id, TokenBalance: initial, ReferralCode: "REF-" + id[:8],
	}))
	rec := &recorder{}
	return New(s, metrics.New(nil), quietLogger(), rec), s, rec, id
}

func balance(t *testing.T, s *store.Store, id string) int64 {
	t.Helper()
	acct, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.TokenBalance
}

func TestSpendAboveBalanceLeavesItUnchanged(t *testing.T) {
	l, s, rec, id := setup(t, 1)

	ok, err := l.Spend(context.Background(), id, 2, domain.SpendReason(ActionAnalysis), "a1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), balance(t, s, id))
	assert.Empty(t, rec.balances)
	assert.Equal(t, 1.0, promtest.ToFloat64(l.Metrics().Spends.WithLabelValues("insufficient")))
}

func TestSpendCreditSequence(t *testing.T) {
	l, s, rec, id := setup(t, 10)
	ctx := context.Background()

	ok, err := l.Spend(ctx, id, 10, domain.SpendReason(ActionChat), "a1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Spend(ctx, id, 2, domain.SpendReason(ActionAnalysis), "a2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Credit(ctx, id, 5, domain.ReasonCredit, "c1"))
	ok, err = l.Spend(ctx, id, 2, domain.SpendReason(ActionAnalysis), "a3")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, int64(3), balance(t, s, id))
	assert.Equal(t, []int64{0, 5, 3}, rec.balances)
}

func TestBaseBalanceScenario(t *testing.T) {
	l, s, _, id := setup(t, 1)
	ctx := context.Background()

	ok, err := l.Spend(ctx, id, 2, domain.SpendReason(ActionAnalysis), "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), balance(t, s, id))

	require.NoError(t, l.Credit(ctx, id, 5, domain.ReasonCredit, ""))
	ok, err = l.Spend(ctx, id, 2, domain.SpendReason(ActionAnalysis), "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), balance(t, s, id))
}

func TestInvalidAmounts(t *testing.T) {
	l, _, _, id := setup(t, 10)
	_, err := l.Spend(context.Background(), id, 0, domain.SpendReason(ActionChat), "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Credit(context.Background(), id, -1, domain.ReasonCredit, ""), domain.ErrInvalidAmount)
}

func TestSpendUnknownAccount(t *testing.T) {
	l, _, _, _ := setup(t, 10)
	ok, err := l.Spend(context.Background(), "missing", 1, domain.SpendReason(ActionChat), "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestConcurrentSpendsAndCredits(t *testing.T) {
	l, s, _, id := setup(t, 20)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		spent int64
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := l.Spend(ctx, id, 2, domain.SpendReason(ActionAnalysis), "")
				if !assert.NoError(t, err) {
					return
				}
				if ok {
					mu.Lock()
					spent += 2
					mu.Unlock()
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			assert.NoError(t, l.Credit(ctx, id, 1, domain.ReasonCredit, ""))
		}
	}()
	wg.Wait()

	final := balance(t, s, id)
	assert.Equal(t, int64(20+5)-spent, final)
	assert.GreaterOrEqual(t, final, int64(0))
}

func TestChargeAndRefund(t *testing.T) {
	l, s, _, id := setup(t, 3)
	ctx := context.Background()
	prices := NewPricing(config.TokenConfig{PriceChat: 1, PriceAnalysis: 2, PriceProposal: 3})

	ok, cost, err := l.Charge(ctx, prices, id, ActionProposal, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), cost)
	assert.Equal(t, int64(0), balance(t, s, id))

	require.NoError(t, l.Refund(ctx, id, ActionProposal, cost, "p1"))
	assert.Equal(t, int64(3), balance(t, s, id))

	entries, _, err := s.ListLedger(ctx, id, store.NormalizePage(1, 10))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.RefundReason(ActionProposal), entries[0].Reason)
	assert.Equal(t, "p1", entries[0].Reference)
	assert.Equal(t, domain.SpendReason(ActionProposal), entries[1].Reason)

	_, _, err = l.Charge(ctx, prices, id, "horoscope", "")
	assert.Error(t, err)
}

func TestPricing(t *testing.T) {
	p := NewPricing(config.TokenConfig{PriceChat: 1, PriceAnalysis: 2, PriceProposal: 0})
	cost, ok := p.Price(ActionAnalysis)
	assert.True(t, ok)
	assert.Equal(t, int64(2), cost)
	_, ok = p.Price(ActionProposal)
	assert.False(t, ok)
	assert.Equal(t, []string{"analysis", "chat", "proposal"}, p.Actions())
}
