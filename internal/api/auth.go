package api

import (
	"atlas_trader/internal/domain"   // Importing domain models
	"atlas_trader/internal/referral" // Sign-up with referral bonus
	"atlas_trader/internal/store"    // User lookups
	"atlas_trader/internal/utils"    // Utility functions
	"context"                        // Context for store calls
	"errors"                         // Error matching
	"net/http"                       // HTTP status codes
	"strings"                        // String manipulation

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"golang.org/x/crypto/bcrypt" // Password hashing
)

// Request struct for sign-up
type RegisterRequest struct {
	Email        string `json:"email" binding:"required,email"`    // Email must be provided
	Password     string `json:"password" binding:"required"`       // Password must be provided
	ReferralCode string `json:"referral_code" binding:"omitempty"` // Optional referrer code
}

// Request struct for login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`    // Email must be provided
	Password string `json:"password" binding:"required"` // Password must be provided
}

// Response struct for authentication
type AuthResponse struct {
	Token    string          `json:"token"`              // JWT token
	Account  *domain.Account `json:"account,omitempty"`  // Account after sign-up
	Referral string          `json:"referral,omitempty"` // no_code, applied, invalid_code or unavailable
}

// UserStore is what the auth handlers read
type UserStore interface {
	EmailTaken(ctx context.Context, email string) (bool, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// isValidPassword checks if the password length is between 8 and 72 characters
func isValidPassword(password string) bool {
	return len(password) >= 8 && len(password) <= 72 // bcrypt ignores anything past 72 bytes
}

// RegisterHandler creates the user and account, applies the referral code and logs the user in
func RegisterHandler(engine *referral.Engine, users UserStore, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			// If binding fails, return bad request
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		// Validate password length
		if !isValidPassword(req.Password) {
			// If password is invalid, return bad request
			c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be 8-72 characters"})
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email)) // Emails are unique lower-cased
		taken, err := users.EmailTaken(c.Request.Context(), email)
		if err != nil {
			respondError(c, err, "Email lookup failed")
			return
		}
		if taken {
			// Duplicate email
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}
		// Hash the password
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			// If hashing fails, return internal server error
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
			return
		}
		reg, err := engine.Register(c.Request.Context(), referral.SignUp{
			Email:        email,
			PasswordHash: string(hash),
			ReferralCode: req.ReferralCode,
		})
		if err != nil {
			respondError(c, err, "Sign-up failed")
			return
		}
		outcome := string(reg.Referral) // Referral result shown to the user
		if reg.ReferralError != nil {
			outcome = "unavailable"
			logrus.WithFields(logrus.Fields{
				"account_id": reg.Account.ID,            // New account
				"error":      reg.ReferralError.Error(), // Error message
			}).Warn("Referral not applied at sign-up")
		}
		// Generate JWT token
		token, err := utils.GenerateJWT(reg.User.ID, jwtSecret)
		if err != nil {
			// If token generation fails, return internal server error
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		c.JSON(http.StatusCreated, AuthResponse{Token: token, Account: reg.Account, Referral: outcome})
	}
}

// LoginHandler authenticates a user and returns a JWT token
func LoginHandler(users UserStore, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			// If binding fails, return bad request
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		user, err := users.FindUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
		if errors.Is(err, store.ErrUserNotFound) {
			// If user not found, return unauthorized
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		if err != nil {
			respondError(c, err, "Login lookup failed")
			return
		}
		// Compare provided password with stored hash
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		// Generate JWT token
		token, err := utils.GenerateJWT(user.ID, jwtSecret)
		if err != nil {
			// If token generation fails, return internal server error
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		// Return the token in the response
		c.JSON(http.StatusOK, AuthResponse{Token: token})
	}
}
