package store

import (
	"atlas_trader/internal/domain"
	"atlas_trader/internal/testutil"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(testutil.NewDB(t), Options{
		Timeout:    5 * time.Second,
		MaxRetries: 200,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

func seedAccount(t *testing.T, s *Store, balance int64) *domain.Account {
	t.Helper()
	id := uuid.NewString()
	acct := &domain.Account{ID: id, TokenBalance: balance, ReferralCode: "REF-" + id[:8]}
	require.NoError(t, s.CreateAccount(context.Background(), nil, acct))
	return acct
}

func debit(amount int64) Mutation {
	return Mutation{
		Reason: domain.SpendReason("chat"),
		Apply: func(a *domain.Account) error {
			if a.TokenBalance < amount {
				return domain.ErrInsufficientFunds
			}
			a.TokenBalance -= amount
			return nil
		},
	}
}

func TestCreateAccountWritesOpeningEntry(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 10)

	got, err := s.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.TokenBalance)
	assert.False(t, got.IsSellerVerified)

	entries, total, err := s.ListLedger(context.Background(), acct.ID, NormalizePage(1, 20))
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, domain.ReasonSignup, entries[0].Reason)
	assert.Equal(t, int64(10), entries[0].BalanceAfter)
}

func TestGetAccountMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAccount(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestConditionalUpdateRejectsOverdraft(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 1)

	_, err := s.ConditionalUpdate(context.Background(), acct.ID, debit(2))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	got, err := s.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TokenBalance)
	assert.Equal(t, acct.Version, got.Version)
}

func TestConditionalUpdateBumpsVersionAndLogs(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 5)

	got, err := s.ConditionalUpdate(context.Background(), acct.ID, debit(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TokenBalance)
	assert.Equal(t, int64(1), got.Version)

	entries, _, err := s.ListLedger(context.Background(), acct.ID, NormalizePage(1, 20))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-2), entries[0].Delta)
	assert.Equal(t, int64(3), entries[0].BalanceAfter)
}

func TestConditionalUpdateKeepsIdentity(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 5)

	got, err := s.ConditionalUpdate(context.Background(), acct.ID, Mutation{
		Apply: func(a *domain.Account) error {
			a.ReferralCode = "REF-HIJACK"
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, acct.ReferralCode, got.ReferralCode)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 30)

	const workers, perWorker = 4, 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
		failures  []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.ConditionalUpdate(context.Background(), acct.ID, debit(1))
				mu.Lock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, domain.ErrInsufficientFunds):
				default:
					failures = append(failures, err)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	assert.Equal(t, int64(30), succeeded)
	got, err := s.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TokenBalance)

	entries, total, err := s.ListLedger(context.Background(), acct.ID, NormalizePage(1, 100))
	require.NoError(t, err)
	assert.Equal(t, int64(31), total)
	for _, e := range entries {
		assert.GreaterOrEqual(t, e.BalanceAfter, int64(0))
	}
}

func TestIncrement(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 1)

	got, err := s.Increment(context.Background(), acct.ID, 5, domain.ReasonCredit, "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.TokenBalance)
	assert.Equal(t, int64(1), got.Version)

	_, err = s.Increment(context.Background(), acct.ID, 0, domain.ReasonCredit, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = s.Increment(context.Background(), "missing", 1, domain.ReasonCredit, "")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestApplyReferralOncePerReferee(t *testing.T) {
	s := newTestStore(t)
	referrer := seedAccount(t, s, 10)
	referee := seedAccount(t, s, 10)
	rec := domain.ReferralRecord{RefereeID: referee.ID, ReferrerID: referrer.ID, Code: referrer.ReferralCode, Bonus: 5}

	first, err := s.ApplyReferral(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, int64(15), first.Referrer.TokenBalance)
	assert.Equal(t, int64(15), first.Referee.TokenBalance)

	second, err := s.ApplyReferral(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, second.Applied)

	got, err := s.GetAccount(context.Background(), referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.TokenBalance)

	n, err := s.CountReferrals(context.Background(), referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestApplyReferralUnknownReferrerRollsBack(t *testing.T) {
	s := newTestStore(t)
	referee := seedAccount(t, s, 10)

	_, err := s.ApplyReferral(context.Background(), domain.ReferralRecord{
		RefereeID: referee.ID, ReferrerID: "ghost", Code: "REF-GHOST", Bonus: 5,
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, found, err := s.GetReferral(context.Background(), referee.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreateDepositDuplicate(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 10)
	dep := &domain.Deposit{DepositID: uuid.NewString(), AccountID: acct.ID, Amount: 4500, Currency: "CDF"}
	require.NoError(t, s.CreateDeposit(context.Background(), dep))

	again := *dep
	assert.ErrorIs(t, s.CreateDeposit(context.Background(), &again), domain.ErrDuplicateDeposit)
}

func TestSettleAppliesOnce(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 10)
	dep := &domain.Deposit{DepositID: uuid.NewString(), AccountID: acct.ID, Amount: 4500, Currency: "CDF"}
	require.NoError(t, s.CreateDeposit(context.Background(), dep))
	until := time.Now().Add(30 * 24 * time.Hour).UTC()
	params := SettleParams{
		DepositID: dep.DepositID, AccountID: acct.ID, Status: domain.DepositSuccess,
		Source: domain.SourceClient, SellerUntil: until, TokenGrant: 3,
	}

	first, err := s.Settle(context.Background(), params)
	require.NoError(t, err)
	require.True(t, first.Applied)
	assert.True(t, first.Account.IsSellerVerified)
	assert.Equal(t, int64(13), first.Account.TokenBalance)
	require.NotNil(t, first.Payment)

	replay, err := s.Settle(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, domain.DepositSuccess, replay.Deposit.Status)

	records, total, err := s.ListPayments(context.Background(), PaymentFilter{AccountID: acct.ID}, NormalizePage(1, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, domain.DepositSuccess, records[0].Status)

	got, err := s.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(13), got.TokenBalance)
}

func TestSettleRejectsForeignAndUnknownDeposits(t *testing.T) {
	s := newTestStore(t)
	owner := seedAccount(t, s, 10)
	intruder := seedAccount(t, s, 10)
	dep := &domain.Deposit{DepositID: uuid.NewString(), AccountID: owner.ID, Amount: 4500, Currency: "CDF"}
	require.NoError(t, s.CreateDeposit(context.Background(), dep))

	_, err := s.Settle(context.Background(), SettleParams{
		DepositID: dep.DepositID, AccountID: intruder.ID, Status: domain.DepositSuccess, Source: domain.SourceClient,
	})
	assert.ErrorIs(t, err, domain.ErrUntrustedCallback)

	_, err = s.Settle(context.Background(), SettleParams{
		DepositID: "unknown", AccountID: owner.ID, Status: domain.DepositSuccess, Source: domain.SourceClient,
	})
	assert.ErrorIs(t, err, domain.ErrUntrustedCallback)

	got, err := s.GetDeposit(context.Background(), dep.DepositID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositInitiated, got.Status)

	_, total, err := s.ListPayments(context.Background(), PaymentFilter{}, NormalizePage(1, 20))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSettleFailedRecordsOnly(t *testing.T) {
	s := newTestStore(t)
	acct := seedAccount(t, s, 10)
	dep := &domain.Deposit{DepositID: uuid.NewString(), AccountID: acct.ID, Amount: 4500, Currency: "CDF"}
	require.NoError(t, s.CreateDeposit(context.Background(), dep))

	res, err := s.Settle(context.Background(), SettleParams{
		DepositID: dep.DepositID, Status: domain.DepositFailed, Source: domain.SourceWebhook,
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Nil(t, res.Account)

	got, err := s.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSellerVerified)
	assert.Equal(t, acct.Version, got.Version)

	records, _, err := s.ListPayments(context.Background(), PaymentFilter{Status: domain.DepositFailed}, NormalizePage(1, 20))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.SourceWebhook, records[0].Source)
}

// newMockStore runs a Store on the MySQL dialector against a scripted connection
func newMockStore(t *testing.T, opts Options) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	conn, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return New(conn, opts), mock
}

func accountRow(balance, version int64) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "token_balance", "referral_code", "is_seller_verified", "seller_until", "version", "created_at", "updated_at"}).
		AddRow("acct-1", balance, "REF-ACCT0001", false, nil, version, now, now)
}

// countingDebit is debit(amount) that records how often Apply ran
func countingDebit(amount int64, calls *int) Mutation {
	m := debit(amount)
	apply := m.Apply
	m.Apply = func(a *domain.Account) error {
		*calls++
		return apply(a)
	}
	return m
}

func fastRetries(n int) Options {
	return Options{Timeout: 5 * time.Second, MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestConditionalUpdateRereadsAfterLostRace(t *testing.T) {
	s, mock := newMockStore(t, fastRetries(3))

	// Attempt 1 reads balance 5 but another writer bumps the version first
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(accountRow(5, 0))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	// Attempt 2 sees what that writer left: too little for the debit
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(accountRow(1, 1))
	mock.ExpectRollback()

	calls := 0
	_, err := s.ConditionalUpdate(context.Background(), "acct-1", countingDebit(3, &calls))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 2, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalUpdateCommitsOnRetry(t *testing.T) {
	s, mock := newMockStore(t, fastRetries(3))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(accountRow(5, 0))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(accountRow(4, 1))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	calls := 0
	got, err := s.ConditionalUpdate(context.Background(), "acct-1", countingDebit(3, &calls))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), got.TokenBalance, "debit applied to the re-read balance")
	assert.Equal(t, int64(2), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalUpdateExhaustedConflictsAreUnavailable(t *testing.T) {
	const retries = 2
	s, mock := newMockStore(t, fastRetries(retries))

	for i := 0; i <= retries; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT").WillReturnRows(accountRow(10, int64(i)))
		mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}

	calls := 0
	_, err := s.ConditionalUpdate(context.Background(), "acct-1", countingDebit(3, &calls))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NotErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, retries+1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t, DefaultOptions())

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))
	_, err := s.GetAccount(context.Background(), "acct-1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrAccountNotFound)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	_, err = s.ConditionalUpdate(context.Background(), "acct-1", debit(1))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNormalizePage(t *testing.T) {
	assert.Equal(t, Page{Page: 1, PageSize: 20}, NormalizePage(0, 0))
	assert.Equal(t, Page{Page: 3, PageSize: 50}, NormalizePage(3, 50))
	assert.Equal(t, 100, NormalizePage(3, 50).Offset())
	assert.Equal(t, 20, NormalizePage(1, 500).PageSize)
}
