package config

import (
	"errors"  // For joining validation errors
	"fmt"     // For error formatting
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // For timeouts

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	JWTSecret  string // JWT secret key
	RedisAddr  string // Redis server address
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	IsProd     bool   // Is production environment

	Tokens   TokenConfig   // Token economy settings
	Payments PaymentConfig // Subscription checkout settings

	GeminiAPIKey      string        // Text generation API key, empty means canned replies
	GeminiModel       string        // Text generation model name
	StoreTimeout      time.Duration // Upper bound for a single store call
	GenerationTimeout time.Duration // Upper bound for a single generation call
	CASMaxRetries     int           // Retries after a lost optimistic update
	BalanceResync     time.Duration // Store re-read interval of balance watchers
}

// TokenConfig holds the pricing table and bonuses
type TokenConfig struct {
	InitialTokens int64 // Balance given at sign-up
	ReferralBonus int64 // Bonus credited to both referrer and referee
	PriceChat     int64 // Cost of a general chat query
	PriceAnalysis int64 // Cost of a market analysis
	PriceProposal int64 // Cost of a trade proposal
}

// PaymentConfig holds the seller subscription settings
type PaymentConfig struct {
	SubscriptionAmount   int64  // Default checkout amount in minor units
	SubscriptionCurrency string // Default checkout currency
	SellerPeriodDays     int    // Days of seller status granted per success
	TokenGrant           int64  // Tokens credited on success, 0 disables
	PaymentPageURL       string // Hosted payment page
	WebhookSecret        string // HMAC secret for provider webhooks
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),             // Application port
		DBUser:     os.Getenv("DB_USER"),                   // Database user
		DBPassword: os.Getenv("DB_PASSWORD"),               // Database password
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),         // Database host
		DBPort:     getEnv("DB_PORT", "3306"),              // Database port
		DBName:     os.Getenv("DB_NAME"),                   // Database name
		JWTSecret:  os.Getenv("JWT_SECRET"),                // JWT secret key
		RedisAddr:  getEnv("REDIS_ADDR", "127.0.0.1:6379"), // Redis server address
		RedisPass:  os.Getenv("REDIS_PASS"),                // Redis password
		RedisDB:    getEnvInt("REDIS_DB", 0),               // Redis database number
		IsProd:     os.Getenv("IS_PROD") == "true",         // Is production environment
		Tokens: TokenConfig{
			InitialTokens: getEnvInt64("INITIAL_TOKENS", 10),
			ReferralBonus: getEnvInt64("REFERRAL_BONUS", 5),
			PriceChat:     getEnvInt64("PRICE_CHAT", 1),
			PriceAnalysis: getEnvInt64("PRICE_ANALYSIS", 2),
			PriceProposal: getEnvInt64("PRICE_PROPOSAL", 3),
		},
		Payments: PaymentConfig{
			SubscriptionAmount:   getEnvInt64("SUBSCRIPTION_AMOUNT", 4500),
			SubscriptionCurrency: getEnv("SUBSCRIPTION_CURRENCY", "CDF"),
			SellerPeriodDays:     getEnvInt("SELLER_PERIOD_DAYS", 30),
			TokenGrant:           getEnvInt64("PAYMENT_TOKEN_GRANT", 0),
			PaymentPageURL:       getEnv("PAYMENT_PAGE_URL", "http://localhost:8787/payment-page"),
			WebhookSecret:        os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		},
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		StoreTimeout:      getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		CASMaxRetries:     getEnvInt("CAS_MAX_RETRIES", 10),
		BalanceResync:     getEnvDuration("BALANCE_RESYNC", 15*time.Second),
	}
}

// Validate rejects token and payment settings the ledger cannot honour
func (c *Config) Validate() error {
	var errs []error
	positive := []struct {
		name  string
		value int64
	}{
		{"REFERRAL_BONUS", c.Tokens.ReferralBonus},
		{"PRICE_CHAT", c.Tokens.PriceChat},
		{"PRICE_ANALYSIS", c.Tokens.PriceAnalysis},
		{"PRICE_PROPOSAL", c.Tokens.PriceProposal},
		{"SUBSCRIPTION_AMOUNT", c.Payments.SubscriptionAmount},
		{"SELLER_PERIOD_DAYS", int64(c.Payments.SellerPeriodDays)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if c.Tokens.InitialTokens < 0 {
		errs = append(errs, fmt.Errorf("INITIAL_TOKENS must not be negative, got %d", c.Tokens.InitialTokens))
	}
	if c.Payments.TokenGrant < 0 {
		errs = append(errs, fmt.Errorf("PAYMENT_TOKEN_GRANT must not be negative, got %d", c.Payments.TokenGrant))
	}
	if c.CASMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("CAS_MAX_RETRIES must not be negative, got %d", c.CASMaxRetries))
	}
	return errors.Join(errs...)
}

// DSN builds the MySQL Data Source Name
func (c *Config) DSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true"
}

// getEnv returns the variable or a default when unset
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return v
	}
	return def
}

// getEnvDuration accepts Go duration strings such as "5s" or "250ms"
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}
