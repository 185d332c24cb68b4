package referral

import (
	"atlas_trader/internal/domain"
	"atlas_trader/internal/ledger"
	"atlas_trader/internal/metrics"
	"atlas_trader/internal/store"
	"atlas_trader/internal/testutil"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	s := store.New(testutil.NewDB(t), store.DefaultOptions())
	l := ledger.New(s, metrics.New(nil), log)
	return NewEngine(s, l, 10, 5, log), s
}

func register(t *testing.T, e *Engine, email, code string) *Registration {
	t.Helper()
	reg, err := e.Register(context.Background(), SignUp{Email: email, PasswordHash: "x", ReferralCode: code})
	require.NoError(t, err)
	return reg
}

func balanceOf(t *testing.T, s *store.Store, id string) int64 {
	t.Helper()
	acct, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.TokenBalance
}

func TestRegisterWithoutCode(t *testing.T) {
	e, s := newEngine(t)
	reg := register(t, e, "a@example.com", "   ")

	assert.Equal(t, NoCode, reg.Referral)
	assert.NoError(t, reg.ReferralError)
	assert.Equal(t, int64(10), balanceOf(t, s, reg.Account.ID))
	assert.True(t, strings.HasPrefix(reg.Account.ReferralCode, "REF-"))
	assert.Len(t, reg.Account.ReferralCode, 12)
}

func TestRegisterWithValidCode(t *testing.T) {
	e, s := newEngine(t)
	referrer := register(t, e, "ref@example.com", "")

	// Codes are matched case-insensitively and trimmed
	reg := register(t, e, "new@example.com", "  "+strings.ToLower(referrer.Account.ReferralCode)+" ")

	assert.Equal(t, Applied, reg.Referral)
	assert.Equal(t, int64(15), reg.Account.TokenBalance)
	assert.Equal(t, int64(15), balanceOf(t, s, referrer.Account.ID))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.ledger.Metrics().Referrals.WithLabelValues("applied")))
}

func TestRegisterWithInvalidCode(t *testing.T) {
	e, s := newEngine(t)
	bystander := register(t, e, "by@example.com", "")

	reg := register(t, e, "new@example.com", "REF-NOPE0000")

	assert.Equal(t, InvalidCode, reg.Referral)
	assert.Equal(t, int64(10), balanceOf(t, s, reg.Account.ID))
	assert.Equal(t, int64(10), balanceOf(t, s, bystander.Account.ID))
}

func TestApplyTwiceCreditsOnce(t *testing.T) {
	e, s := newEngine(t)
	referrer := register(t, e, "ref@example.com", "")
	newcomer := register(t, e, "new@example.com", "")

	for i := 0; i < 3; i++ {
		out, err := e.Apply(context.Background(), newcomer.Account.ID, referrer.Account.ReferralCode)
		require.NoError(t, err)
		assert.Equal(t, Applied, out)
	}

	assert.Equal(t, int64(15), balanceOf(t, s, referrer.Account.ID))
	assert.Equal(t, int64(15), balanceOf(t, s, newcomer.Account.ID))
	n, err := s.CountReferrals(context.Background(), referrer.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSelfReferralRefused(t *testing.T) {
	e, s := newEngine(t)
	reg := register(t, e, "me@example.com", "")

	out, err := e.Apply(context.Background(), reg.Account.ID, reg.Account.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, InvalidCode, out)
	assert.Equal(t, int64(10), balanceOf(t, s, reg.Account.ID))
}

func TestGenerateCodeFallsBackOnCollision(t *testing.T) {
	e, s := newEngine(t)
	id := uuid.NewString()
	derived := "REF-" + derivedSuffix(id)
	require.NoError(t, s.CreateAccount(context.Background(), nil, &domain.Account{ID: uuid.NewString(), ReferralCode: derived}))

	code, err := e.GenerateCode(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, derived, code)
	assert.Regexp(t, `^REF-[0-9A-F]{8}$`, code)
}

func TestDerivedSuffix(t *testing.T) {
	assert.Equal(t, "1B4E28BA", derivedSuffix("1b4e28ba-2fa1-11d2-883f-0016d3cca427"))
	assert.Equal(t, "AB", derivedSuffix("ab"))
}

type failingStore struct {
	Store
}

func (failingStore) FindByReferralCode(context.Context, string) (*domain.Account, error) {
	return nil, domain.ErrStoreUnavailable
}

func TestApplyStoreFailureIsAnError(t *testing.T) {
	e, _ := newEngine(t)
	e.store = failingStore{Store: e.store}

	out, err := e.Apply(context.Background(), "acct", "REF-ABCDEF12")
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
	assert.Equal(t, Outcome(""), out)
}
