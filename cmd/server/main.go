package main

import (
	"atlas_trader/internal/api"        // Custom package for API handlers
	"atlas_trader/internal/assistant"  // Text generation backends
	"atlas_trader/internal/config"     // Custom package for configuration
	"atlas_trader/internal/db"         // Database connection
	"atlas_trader/internal/ledger"     // Spend and credit
	"atlas_trader/internal/metrics"    // Prometheus collectors
	"atlas_trader/internal/observer"   // Live balance push
	"atlas_trader/internal/referral"   // Sign-up and referral bonus
	"atlas_trader/internal/settlement" // Deposits and callbacks
	"atlas_trader/internal/store"      // Balance Store
	"context"                          // context package is needed for Redis operations
	"errors"                           // Server shutdown check
	"net/http"                         // HTTP server
	"os"                               // Signals
	"os/signal"                        // Graceful shutdown
	"syscall"                          // SIGTERM
	"time"                             // Timeouts

	"github.com/gin-gonic/gin"                                  // Gin web framework
	"github.com/prometheus/client_golang/prometheus"            // Metrics registry
	"github.com/prometheus/client_golang/prometheus/collectors" // Runtime collectors
	"github.com/redis/go-redis/v9"                              // Redis client
	"github.com/sirupsen/logrus"                                // Logrus for structured logging
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}

	// Connect to the database
	conn, err := db.Open(cfg.DSN())
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Setup Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})

	// Test Redis connection
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := store.DefaultOptions()
	opts.Timeout = cfg.StoreTimeout
	opts.MaxRetries = cfg.CASMaxRetries
	st := store.New(conn, opts)

	logger := logrus.StandardLogger()
	broker := observer.NewBroker(redisClient, st, m, logger)
	broker.SetResync(cfg.BalanceResync)
	// Cache invalidation runs before the push so watchers read fresh views
	led := ledger.New(st, m, logger, api.AccountCacheNotifier(redisClient), broker)

	var gen assistant.Generator = assistant.NewCanned(uint64(time.Now().UnixNano()))
	if cfg.GeminiAPIKey != "" {
		gen = assistant.NewGemini(assistant.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.GenerationTimeout,
		}, logger)
	}
	logrus.WithField("backend", gen.Name()).Info("Assistant backend selected")

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	r := api.NewRouter(api.Deps{
		Config:    cfg,
		Store:     st,
		Redis:     redisClient,
		Ledger:    led,
		Pricing:   ledger.NewPricing(cfg.Tokens),
		Referrals: referral.NewEngine(st, led, cfg.Tokens.InitialTokens, cfg.Tokens.ReferralBonus, logger),
		Payments:  settlement.NewService(st, led, cfg.Payments, logger),
		Broker:    broker,
		Assistant: assistant.New(gen, cfg.GenerationTimeout, m, logger),
		Metrics:   m,
	})

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.Info("Server running on " + cfg.AppPort) // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("shutdown: %v", err)
	}
	_ = redisClient.Close()
}
