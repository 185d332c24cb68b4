package api

import (
	"atlas_trader/internal/assistant" // Prompts and generation
	"atlas_trader/internal/ledger"    // Priced actions
	"atlas_trader/internal/market"    // Synthetic series
	"atlas_trader/internal/utils"     // In-flight guard
	"context"                         // Detached refund context
	"errors"                          // Error matching
	"net/http"                        // HTTP status codes
	"strings"                         // String manipulation
	"time"                            // Refund timeout

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/google/uuid"     // Action ids
	"github.com/sirupsen/logrus" // Logging library
)

// ActionRequest is the body of a priced action
type ActionRequest struct {
	Symbol  string              `json:"symbol" binding:"required"`     // Market symbol
	Message string              `json:"message"`                       // Question, chat only
	History []assistant.Message `json:"history" binding:"max=50,dive"` // Prior turns, chat only
}

// ActionHandler debits the action's price, then generates the answer.
// A failed generation credits the tokens back.
func ActionHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c) // Get userID from context
		if !ok {
			return
		}
		action := c.Param("action")
		if _, priced := d.Pricing.Price(action); !priced {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown action"})
			return
		}
		var req ActionRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		symbol := normalizeSymbol(req.Symbol)
		if !market.Known(symbol) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown symbol"})
			return
		}
		if action == ledger.ActionChat && strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
			return
		}
		ctx := c.Request.Context()
		actionID := uuid.NewString() // Reference for spend and refund entries
		log := logrus.WithFields(logrus.Fields{
			"account_id": userID,   // Caller
			"action":     action,   // Priced action
			"action_id":  actionID, // Ledger reference
		})

		// One priced action per account at a time
		release, err := utils.AcquireInflight(ctx, d.Redis, userID, actionID)
		switch {
		case errors.Is(err, utils.ErrActionInFlight):
			d.Metrics.InflightRejected.Inc()
			c.JSON(http.StatusConflict, gin.H{"error": "Another action is in progress"})
			return
		case err != nil:
			// The ledger stays correct without the marker
			log.WithField("error", err.Error()).Warn("In-flight guard unavailable")
			release = func() {}
		}
		defer release()

		spent, cost, err := d.Ledger.Charge(ctx, d.Pricing, userID, action, actionID)
		if err != nil {
			respondError(c, err, "Spend failed")
			return
		}
		if !spent {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient tokens", "cost": cost})
			return
		}

		now := d.Now()
		points, err := market.Generate(symbol, market.Seed(symbol, now), now)
		if err != nil {
			refund(d, log, userID, action, cost, actionID)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown symbol"})
			return
		}
		answer, err := d.Assistant.Answer(ctx, buildPrompt(action, symbol, points, req))
		if err != nil {
			refunded := refund(d, log, userID, action, cost, actionID)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":     assistant.Apology, // Shown to the user as is
				"action_id": actionID,          // Ledger reference
				"refunded":  refunded,          // Tokens credited back
			})
			return
		}

		resp := gin.H{
			"action_id": actionID, // Ledger reference
			"answer":    answer,   // Generated text
			"charged":   cost,     // Tokens spent
		}
		if acct, err := d.Ledger.Balance(ctx, userID); err == nil {
			resp["balance"] = acct.TokenBalance // Balance after the spend
		}
		log.WithField("charged", cost).Info("Action delivered")
		c.JSON(http.StatusOK, resp)
	}
}

// refund credits a failed action back on a context detached from the request
func refund(d Deps, log *logrus.Entry, userID, action string, cost int64, actionID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Ledger.Refund(ctx, userID, action, cost, actionID); err != nil {
		log.WithField("error", err.Error()).Error("Refund failed")
		return false
	}
	log.WithField("amount", cost).Info("Action refunded")
	return true
}

func buildPrompt(action, symbol string, points []market.Point, req ActionRequest) assistant.Prompt {
	switch action {
	case ledger.ActionAnalysis:
		return assistant.AnalysisPrompt(symbol, points)
	case ledger.ActionProposal:
		return assistant.ProposalPrompt(symbol, points)
	default:
		return assistant.ChatPrompt(symbol, points, req.History, strings.TrimSpace(req.Message))
	}
}
