package api

import (
	"atlas_trader/internal/domain"     // Importing domain models
	"atlas_trader/internal/metrics"    // Prometheus collectors
	"atlas_trader/internal/settlement" // Deposits and callbacks
	"atlas_trader/internal/utils"      // Cache helpers
	"errors"                           // Error matching
	"io"                               // Raw webhook body
	"net/http"                         // HTTP status codes

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

// maxWebhookBody caps the provider payload read into memory
const maxWebhookBody = 64 << 10

// Request struct for starting a checkout
type DepositRequest struct {
	DepositID string `json:"deposit_id" binding:"omitempty,max=64"` // Optional client id
	Amount    int64  `json:"amount" binding:"omitempty,gt=0"`       // Minor units, defaults to the subscription
	Currency  string `json:"currency" binding:"omitempty,len=3"`    // Defaults to the subscription currency
}

// Request struct for a client reported payment result
type CallbackRequest struct {
	DepositID string `json:"deposit_id" binding:"required"` // Deposit being reported
	Status    string `json:"status" binding:"required"`     // Provider status as shown to the client
}

// CreateDepositHandler starts a checkout for the authenticated user
func CreateDepositHandler(payments *settlement.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c) // Get userID from context
		if !ok {
			return
		}
		var req DepositRequest // Bind JSON request to struct
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
		}
		dep, err := payments.Initiate(c.Request.Context(), userID, settlement.Intent{
			DepositID: req.DepositID,
			Amount:    req.Amount,
			Currency:  req.Currency,
		})
		if err != nil {
			respondError(c, err, "Failed to create deposit")
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"deposit_id":  dep.DepositID,            // Id to report back
			"payment_url": payments.PaymentURL(dep), // Hosted payment page
			"amount":      dep.Amount,               // Minor units
			"currency":    dep.Currency,             // ISO 4217 code
			"status":      dep.Status,               // initiated
		})
	}
}

// GetDepositHandler returns one deposit of the authenticated user
func GetDepositHandler(payments *settlement.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c) // Get userID from context
		if !ok {
			return
		}
		dep, err := payments.Deposit(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			respondError(c, err, "Failed to load deposit")
			return
		}
		c.JSON(http.StatusOK, gin.H{"deposit": dep})
	}
}

// PaymentCallbackHandler applies a result reported by the paying client.
// Only deposits the caller initiated are accepted.
func PaymentCallbackHandler(payments *settlement.Service, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c) // Get userID from context
		if !ok {
			return
		}
		var req CallbackRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		res, err := payments.Settle(c.Request.Context(), settlement.Callback{
			AccountID:      userID,
			DepositID:      req.DepositID,
			ProviderStatus: req.Status,
			Source:         domain.SourceClient,
		})
		if err != nil {
			respondError(c, err, "Settlement failed")
			return
		}
		dropPaymentListings(c, rdb, res)
		c.JSON(http.StatusOK, settlementBody(res))
	}
}

// PaymentWebhookHandler applies a signed provider notification
func PaymentWebhookHandler(payments *settlement.Service, rdb *redis.Client, m *metrics.Metrics, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			// Webhooks are disabled without a shared secret
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Webhook not configured"})
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		ev, err := settlement.ParseWebhook(secret, body, c.GetHeader(settlement.SignatureHeader))
		if errors.Is(err, settlement.ErrBadSignature) {
			m.WebhookRejected.Inc()
			logrus.WithField("remote", c.ClientIP()).Warn("Rejected unsigned webhook")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
			return
		}
		res, err := payments.Settle(c.Request.Context(), settlement.Callback{
			DepositID:      ev.DepositID,
			ProviderStatus: ev.Status,
			Source:         domain.SourceWebhook,
		})
		if err != nil {
			respondError(c, err, "Webhook settlement failed")
			return
		}
		dropPaymentListings(c, rdb, res)
		c.JSON(http.StatusOK, settlementBody(res))
	}
}

// dropPaymentListings clears cached admin payment pages after a new record
func dropPaymentListings(c *gin.Context, rdb *redis.Client, res *settlement.Result) {
	if res.Replayed {
		return
	}
	if err := utils.DeletePattern(c.Request.Context(), rdb, "admin:payments:*"); err != nil {
		logrus.WithField("error", err.Error()).Warn("Failed to drop payment listings")
	}
}

func settlementBody(res *settlement.Result) gin.H {
	body := gin.H{
		"deposit_id": res.Deposit.DepositID, // Settled deposit
		"status":     res.Deposit.Status,    // Stored status, first result wins
		"replayed":   res.Replayed,          // Nothing changed
	}
	if res.Account != nil {
		body["token_balance"] = res.Account.TokenBalance          // Balance after the grant
		body["seller_until"] = res.Account.SellerUntil            // Seller expiry
		body["is_seller_verified"] = res.Account.IsSellerVerified // Seller flag
	}
	return body
}
