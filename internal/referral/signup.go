package referral

import (
	"atlas_trader/internal/domain"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	codePrefix   = "REF-"
	codeLength   = 8
	codeAttempts = 5
)

// ErrCodeSpaceExhausted means no free referral code was found
var ErrCodeSpaceExhausted = errors.New("could not allocate a referral code")

// SignUp is a new user's registration request
type SignUp struct {
	Email        string // Lower-cased email
	PasswordHash string // bcrypt hash
	ReferralCode string // Optional code of the referrer
}

// Registration is the result of a sign-up
type Registration struct {
	User          *domain.User
	Account       *domain.Account
	Referral      Outcome
	ReferralError error // Set when the bonus could not be applied; the sign-up itself stands
}

// Register creates the user and its account with the base balance, then resolves the referral code.
// A referral problem never fails the sign-up.
func (e *Engine) Register(ctx context.Context, req SignUp) (*Registration, error) {
	id := uuid.NewString()
	code, err := e.GenerateCode(ctx, id)
	if err != nil {
		return nil, err
	}
	user := &domain.User{ID: id, Email: req.Email, Password: req.PasswordHash, Role: domain.RoleUser}
	acct := &domain.Account{ID: id, TokenBalance: e.base, ReferralCode: code}
	if err := e.store.CreateAccount(ctx, user, acct); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"account_id": id, "referral_code": code}).Info("Account created")

	reg := &Registration{User: user, Account: acct}
	reg.Referral, reg.ReferralError = e.Apply(ctx, id, req.ReferralCode)
	if reg.Referral == Applied {
		if fresh, err := e.store.GetAccount(ctx, id); err == nil {
			reg.Account = fresh
		}
	}
	return reg, nil
}

// GenerateCode derives a referral code from the account id and falls back
// to random codes when the derived one is taken.
func (e *Engine) GenerateCode(ctx context.Context, accountID string) (string, error) {
	candidate := codePrefix + derivedSuffix(accountID)
	for attempt := 0; attempt <= codeAttempts; attempt++ {
		if attempt > 0 {
			suffix, err := randomSuffix()
			if err != nil {
				return "", err
			}
			candidate = codePrefix + suffix
		}
		taken, err := e.store.ReferralCodeExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// derivedSuffix is the first hex characters of the id, upper-cased
func derivedSuffix(id string) string {
	s := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(s) > codeLength {
		s = s[:codeLength]
	}
	return s
}

func randomSuffix() (string, error) {
	buf := make([]byte, codeLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("referral code entropy: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
