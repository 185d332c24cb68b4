package api

import (
	"atlas_trader/internal/domain" // Importing domain models
	"atlas_trader/internal/store"  // Balance Store
	"atlas_trader/internal/utils"  // Utility functions
	"context"                      // Context for store calls
	"net/http"                     // HTTP status codes
	"strconv"                      // String conversion
	"strings"                      // String manipulation

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
)

// AccountAdminResponse is one account as shown to admins
type AccountAdminResponse struct {
	ID               string `json:"id"`                 // Account id
	TokenBalance     int64  `json:"token_balance"`      // Current balance
	ReferralCode     string `json:"referral_code"`      // Code to share
	IsSellerVerified bool   `json:"is_seller_verified"` // Seller status granted
	SellerUntil      string `json:"seller_until"`       // Seller expiry, empty when never granted
	Version          int64  `json:"version"`            // Write counter
	CreatedAt        string `json:"created_at"`         // Creation time
}

// adminPage is the cached shape of an admin listing
type adminPage[T any] struct {
	Items      []T   `json:"items"`       // Listed rows
	Page       int   `json:"page"`        // Current page
	PageSize   int   `json:"page_size"`   // Page size
	Total      int64 `json:"total"`       // Total rows
	TotalPages int   `json:"total_pages"` // Total pages
}

// AdminAccountLister pages through every account
type AdminAccountLister interface {
	ListAccounts(ctx context.Context, p store.Page) ([]domain.Account, int64, error)
}

// AdminPaymentLister pages through the payment audit log
type AdminPaymentLister interface {
	ListPayments(ctx context.Context, f store.PaymentFilter, p store.Page) ([]domain.PaymentRecord, int64, error)
}

// ListAccountsHandler returns all accounts with their balances
func ListAccountsHandler(accounts AdminAccountLister, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()                 // Context for Redis and store
		page := store.NormalizePage(pageParams(c)) // Clamp pagination
		// Create a cache key based on pagination parameters
		cacheKey := "admin:accounts:page=" + strconv.Itoa(page.Page) + ":size=" + strconv.Itoa(page.PageSize)
		var cached adminPage[AccountAdminResponse]
		// If cached data found, return it
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, listBody("accounts", cached, true))
			return
		}
		list, total, err := accounts.ListAccounts(ctx, page)
		if err != nil {
			respondError(c, err, "Failed to fetch accounts")
			return
		}
		// Map accounts to response format
		resp := make([]AccountAdminResponse, len(list))
		for i, a := range list {
			resp[i] = AccountAdminResponse{
				ID:               a.ID,
				TokenBalance:     a.TokenBalance,
				ReferralCode:     a.ReferralCode,
				IsSellerVerified: a.IsSellerVerified,
				Version:          a.Version,
				CreatedAt:        a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}
			if a.SellerUntil != nil {
				resp[i].SellerUntil = a.SellerUntil.UTC().Format("2006-01-02T15:04:05Z")
			}
		}
		data := newAdminPage(resp, page, total)
		// Cache the response for future requests
		_ = utils.SetCache(ctx, rdb, cacheKey, data, utils.AdminCacheTTL)
		c.JSON(http.StatusOK, listBody("accounts", data, false))
	}
}

// ListPaymentsHandler returns the payment audit log, with optional filtering by account or status
func ListPaymentsHandler(payments AdminPaymentLister, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		page := store.NormalizePage(pageParams(c)) // Clamp pagination
		filter := store.PaymentFilter{
			AccountID: strings.TrimSpace(c.Query("account_id")),              // Filter by account
			Status:    strings.ToLower(strings.TrimSpace(c.Query("status"))), // Filter by status
		}
		// Build cache key from the filters and pagination
		keyParts := []string{
			"account_id=" + filter.AccountID,
			"status=" + filter.Status,
			"page=" + strconv.Itoa(page.Page),
			"size=" + strconv.Itoa(page.PageSize),
		}
		cacheKey := "admin:payments:" + strings.Join(keyParts, ":")
		var cached adminPage[domain.PaymentRecord]
		// If cached data found, return it
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, listBody("payments", cached, true))
			return
		}
		list, total, err := payments.ListPayments(ctx, filter, page)
		if err != nil {
			respondError(c, err, "Failed to fetch payments")
			return
		}
		data := newAdminPage(list, page, total)
		// Cache the response for future requests
		_ = utils.SetCache(ctx, rdb, cacheKey, data, utils.AdminCacheTTL)
		c.JSON(http.StatusOK, listBody("payments", data, false))
	}
}

func newAdminPage[T any](items []T, page store.Page, total int64) adminPage[T] {
	if items == nil {
		items = []T{}
	}
	return adminPage[T]{
		Items:      items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      total,
		TotalPages: (int(total) + page.PageSize - 1) / page.PageSize, // Calculate total pages
	}
}

func listBody[T any](name string, p adminPage[T], cached bool) gin.H {
	return gin.H{
		name:          p.Items,      // Listed rows
		"page":        p.Page,       // Current page
		"page_size":   p.PageSize,   // Page size
		"total":       p.Total,      // Total rows
		"total_pages": p.TotalPages, // Total pages
		"cached":      cached,       // Indicate response is from cache
	}
}
