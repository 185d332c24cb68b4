package api

import (
	"atlas_trader/internal/domain"     // Domain errors
	"atlas_trader/internal/middleware" // Authenticated user lookup
	"atlas_trader/internal/settlement" // Settlement errors
	"errors"                           // Error matching
	"net/http"                         // HTTP status codes
	"strconv"                          // Query parsing

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// statusFor maps a domain error to an HTTP status and public message
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "Insufficient tokens"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Please try again"
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, domain.ErrUntrustedCallback), errors.Is(err, domain.ErrDepositNotFound):
		return http.StatusNotFound, "Deposit not found"
	case errors.Is(err, domain.ErrDuplicateDeposit):
		return http.StatusConflict, "Deposit already exists"
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, settlement.ErrInvalidCurrency):
		return http.StatusBadRequest, "Invalid currency"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// respondError writes the mapped error and logs server-side failures
func respondError(c *gin.Context, err error, msg string) {
	status, public := statusFor(err)
	if status >= http.StatusInternalServerError {
		userID, _ := middleware.UserID(c)
		logrus.WithFields(logrus.Fields{
			"path":    c.FullPath(), // Route
			"user_id": userID,       // Caller, if authenticated
			"error":   err.Error(),  // Error message
		}).Error(msg) // Log failure
	}
	c.JSON(status, gin.H{"error": public})
}

// requireUser returns the authenticated account id or writes 401
func requireUser(c *gin.Context) (string, bool) {
	userID, exists := middleware.UserID(c) // Get userID from context
	if !exists {
		// If not, return unauthorized
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	return userID, true
}

// pageParams reads page and page_size, defaulting to the first page of 20
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, size
}
