package api

import (
	"atlas_trader/internal/assistant"  // Text generation
	"atlas_trader/internal/config"     // Application configuration
	"atlas_trader/internal/ledger"     // Spend and credit
	"atlas_trader/internal/metrics"    // Prometheus collectors
	"atlas_trader/internal/middleware" // JWT and admin middleware
	"atlas_trader/internal/observer"   // Live balance push
	"atlas_trader/internal/referral"   // Sign-up and referral bonus
	"atlas_trader/internal/settlement" // Deposits and callbacks
	"atlas_trader/internal/store"      // Balance Store
	"time"                             // Clock

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
)

// Deps bundles everything the handlers use
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Redis     *redis.Client
	Ledger    *ledger.Ledger
	Pricing   ledger.Pricing
	Referrals *referral.Engine
	Payments  *settlement.Service
	Broker    *observer.Broker
	Assistant *assistant.Assistant
	Metrics   *metrics.Metrics
	Now       func() time.Time // Defaults to time.Now
}

// NewRouter registers every route on a fresh gin engine
func NewRouter(d Deps) *gin.Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	r := gin.New()                                    // Gin router instance
	r.UseRawPath = true                               // Match BTC%2FUSD as one segment
	r.Use(gin.Logger(), gin.Recovery())               // Request log and panic recovery
	r.Use(d.Metrics.Middleware())                     // Request metrics
	r.GET("/health", HealthHandler(d.Store, d.Redis)) // Liveness of DB and Redis
	r.GET("/metrics", d.Metrics.Handler())            // Prometheus scrape endpoint

	// Auth routes
	r.POST("/user", RegisterHandler(d.Referrals, d.Store, d.Config.JWTSecret)) // Registration endpoint
	r.POST("/user/login", LoginHandler(d.Store, d.Config.JWTSecret))           // Login endpoint

	// Market routes are public
	r.GET("/market", ListSymbolsHandler(d.Pricing)) // Symbols and prices
	r.GET("/market/:symbol", MarketHandler(d.Now))  // Synthetic series; slashes escaped as %2F

	// Provider webhook authenticates with its signature
	r.POST("/payments/webhook", PaymentWebhookHandler(d.Payments, d.Redis, d.Metrics, d.Config.Payments.WebhookSecret))

	auth := middleware.JWTAuthMiddleware(d.Config.JWTSecret) // JWT for everything below

	accountGroup := r.Group("/account", auth)
	accountGroup.GET("", GetAccountHandler(d.Store, d.Redis))  // Account view endpoint
	accountGroup.GET("/ledger", LedgerHistoryHandler(d.Store)) // Ledger history endpoint

	actionGroup := r.Group("/actions", auth)
	actionGroup.POST("/:action", ActionHandler(d)) // chat, analysis, proposal

	paymentGroup := r.Group("/payments", auth)
	paymentGroup.POST("/deposits", CreateDepositHandler(d.Payments))            // Start a checkout
	paymentGroup.GET("/deposits/:id", GetDepositHandler(d.Payments))            // Deposit status
	paymentGroup.POST("/callback", PaymentCallbackHandler(d.Payments, d.Redis)) // Client reported result

	r.GET("/ws/balance", auth, BalanceStreamHandler(d.Broker)) // Live balance over websocket

	// Admin routes (protected, admin only)
	adminGroup := r.Group("/admin", auth, middleware.AdminOnlyMiddleware(d.Store))
	adminGroup.GET("/accounts", ListAccountsHandler(d.Store, d.Redis)) // List accounts endpoint
	adminGroup.GET("/payments", ListPaymentsHandler(d.Store, d.Redis)) // List payments endpoint

	return r
}
