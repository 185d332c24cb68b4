package api

import (
	"atlas_trader/internal/assistant"
	"atlas_trader/internal/config"
	"atlas_trader/internal/domain"
	"atlas_trader/internal/ledger"
	"atlas_trader/internal/metrics"
	"atlas_trader/internal/observer"
	"atlas_trader/internal/referral"
	"atlas_trader/internal/settlement"
	"atlas_trader/internal/store"
	"atlas_trader/internal/testutil"
	"atlas_trader/internal/utils"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
	logrus.SetOutput(io.Discard)
}

type server struct {
	router  *gin.Engine
	deps    Deps
	store   *store.Store
	redis   *redis.Client
	mr      *miniredis.Miniredis
	metrics *metrics.Metrics
}

type option func(*Deps)

func withGenerator(gen assistant.Generator) option {
	return func(d *Deps) {
		d.Assistant = assistant.New(gen, time.Second, d.Metrics, nil)
	}
}

func withConfig(mut func(*config.Config)) option {
	return func(d *Deps) { mut(d.Config) }
}

func newServer(t *testing.T, opts ...option) *server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	mr, rdb := testutil.NewRedis(t)
	st := store.New(testutil.NewDB(t), store.DefaultOptions())
	m := metrics.New(nil)
	cfg := &config.Config{
		JWTSecret: testSecret,
		Tokens: config.TokenConfig{
			InitialTokens: 10,
			ReferralBonus: 5,
			PriceChat:     1,
			PriceAnalysis: 2,
			PriceProposal: 3,
		},
		Payments: config.PaymentConfig{
			SubscriptionAmount:   4500,
			SubscriptionCurrency: "CDF",
			SellerPeriodDays:     30,
			PaymentPageURL:       "https://pay.example.com/payment-page",
			WebhookSecret:        "whsec",
		},
	}
	d := Deps{
		Config:  cfg,
		Store:   st,
		Redis:   rdb,
		Metrics: m,
		Now:     func() time.Time { return fixedNow },
	}
	d.Assistant = assistant.New(assistant.NewCanned(1), time.Second, m, log)
	for _, opt := range opts {
		opt(&d)
	}
	d.Broker = observer.NewBroker(rdb, st, m, log)
	d.Ledger = ledger.New(st, m, log, AccountCacheNotifier(rdb), d.Broker)
	d.Pricing = ledger.NewPricing(cfg.Tokens)
	d.Referrals = referral.NewEngine(st, d.Ledger, cfg.Tokens.InitialTokens, cfg.Tokens.ReferralBonus, log)
	d.Payments = settlement.NewService(st, d.Ledger, cfg.Payments, log)
	return &server{router: NewRouter(d), deps: d, store: st, redis: rdb, mr: mr, metrics: m}
}

// do sends a JSON request and decodes the JSON response into a map
func (s *server) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

// register signs a user up through the API and returns its token and account id
func (s *server) register(t *testing.T, email, code string) (string, string) {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/user", "", gin.H{
		"email":         email,
		"password":      "correct-horse",
		"referral_code": code,
	})
	require.Equal(t, http.StatusCreated, status, body)
	acct := body["account"].(map[string]any)
	return body["token"].(string), acct["id"].(string)
}

// seedAccount creates an account directly in the store and returns a token for it
func (s *server) seedAccount(t *testing.T, balance int64, role string) (string, *domain.Account) {
	t.Helper()
	id := uuid.NewString()
	acct := &domain.Account{ID: id, TokenBalance: balance, ReferralCode: "REF-" + id[:8]}
	user := &domain.User{ID: id, Email: id + "@example.com", Password: "x", Role: role}
	require.NoError(t, s.store.CreateAccount(context.Background(), user, acct))
	token, err := utils.GenerateJWT(id, testSecret)
	require.NoError(t, err)
	return token, acct
}

func (s *server) balance(t *testing.T, id string) int64 {
	t.Helper()
	acct, err := s.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.TokenBalance
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }

func (failingGenerator) Generate(context.Context, assistant.Prompt) (string, error) {
	return "", errors.New("upstream unavailable")
}
