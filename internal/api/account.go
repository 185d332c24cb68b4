package api

import (
	"atlas_trader/internal/domain" // Importing domain models
	"atlas_trader/internal/ledger" // Change notifications
	"atlas_trader/internal/store"  // Balance Store
	"atlas_trader/internal/utils"  // Utility functions
	"context"                      // Context for store calls
	"net/http"                     // HTTP status codes
	"time"                         // Seller expiry check

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

// AccountView is the account as shown to its owner
type AccountView struct {
	ID               string     `json:"id"`                     // Account id
	TokenBalance     int64      `json:"token_balance"`          // Current balance
	ReferralCode     string     `json:"referral_code"`          // Code to share
	ReferralCount    int64      `json:"referral_count"`         // Sign-ups brought in
	IsSellerVerified bool       `json:"is_seller_verified"`     // Seller status granted
	SellerUntil      *time.Time `json:"seller_until,omitempty"` // Seller expiry
	SellerActive     bool       `json:"seller_active"`          // Granted and not expired
	Version          int64      `json:"version"`                // Write counter
}

// AccountReader is what the account handlers read
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	CountReferrals(ctx context.Context, referrerID string) (int64, error)
}

// GetAccountHandler returns the account of the authenticated user.
// The view is cached for display only; every ledger write drops it
// and a read older than the last committed write is never cached.
func GetAccountHandler(accounts AccountReader, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c) // Get userID from context
		if !ok {
			return
		}
		ctx := c.Request.Context()                              // Context for Redis and store
		cacheKey := utils.AccountKey(userID)                    // Cache key for account
		var view AccountView                                    // View struct to hold data
		found, err := utils.GetCache(ctx, rdb, cacheKey, &view) // Try to get from cache
		// If found in cache, return it
		if err == nil && found {
			view.SellerActive = view.IsSellerVerified && view.SellerUntil != nil && time.Now().Before(*view.SellerUntil)
			c.JSON(http.StatusOK, gin.H{"account": view, "cached": true})
			return
		}
		// If not in cache, fetch from DB
		acct, err := accounts.GetAccount(ctx, userID)
		if err != nil {
			respondError(c, err, "Failed to load account")
			return
		}
		referrals, err := accounts.CountReferrals(ctx, userID)
		if err != nil {
			respondError(c, err, "Failed to count referrals")
			return
		}
		view = AccountView{
			ID:               acct.ID,
			TokenBalance:     acct.TokenBalance,
			ReferralCode:     acct.ReferralCode,
			ReferralCount:    referrals,
			IsSellerVerified: acct.IsSellerVerified,
			SellerUntil:      acct.SellerUntil,
			SellerActive:     acct.SellerActive(time.Now()),
			Version:          acct.Version,
		}
		// Skipped when a newer version committed after the read
		_, _ = utils.SetAccountCache(ctx, rdb, userID, acct.Version, view)
		c.JSON(http.StatusOK, gin.H{"account": view, "cached": false}) // Return account info
	}
}

// LedgerLister pages through an account's ledger
type LedgerLister interface {
	ListLedger(ctx context.Context, accountID string, p store.Page) ([]domain.LedgerEntry, int64, error)
}

// LedgerHistoryHandler returns the balance movements of the authenticated user
func LedgerHistoryHandler(entries LedgerLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c) // Get userID from context
		if !ok {
			return
		}
		page := store.NormalizePage(pageParams(c)) // Clamp pagination
		list, total, err := entries.ListLedger(c.Request.Context(), userID, page)
		if err != nil {
			respondError(c, err, "Failed to fetch ledger")
			return
		}
		// Calculate total pages
		totalPages := (int(total) + page.PageSize - 1) / page.PageSize
		c.JSON(http.StatusOK, gin.H{
			"entries":     list,          // Ledger entries, newest first
			"page":        page.Page,     // Current page
			"page_size":   page.PageSize, // Page size
			"total":       total,         // Total entries
			"total_pages": totalPages,    // Total pages
		})
	}
}

// AccountCacheNotifier drops the cached account view after every committed change
func AccountCacheNotifier(rdb *redis.Client) ledger.Notifier {
	return ledger.NotifierFunc(func(ctx context.Context, acct *domain.Account) {
		if err := utils.MarkAccountChanged(ctx, rdb, acct.ID, acct.Version); err != nil {
			logrus.WithFields(logrus.Fields{
				"account_id": acct.ID,     // Changed account
				"error":      err.Error(), // Error message
			}).Warn("Failed to drop account cache")
		}
	})
}
