package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpIssuer        = "passgate"
	recoveryCodeCount = 8
	recoveryCodeLen   = 8 // hex characters (4 bytes)
)

var ErrTOTPNotPending = errors.New("no pending sign-in for token")

// GenerateTOTPSecret creates a new TOTP secret for the given account.
// Returns the key (contains secret + provisioning URL for QR).
func GenerateTOTPSecret(email string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: email,
	})
}

// ValidateTOTPCode checks a 6-digit TOTP code against a secret.
func ValidateTOTPCode(secret, code string) bool {
	return totp.Validate(code, secret)
}

// GenerateRecoveryCodes creates a set of one-time recovery codes.
// Returns the plain-text codes (show to user once) and their stored
// representations.
func GenerateRecoveryCodes() (plain []string, stored []string, err error) {
	plain = make([]string, recoveryCodeCount)
	stored = make([]string, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		b := make([]byte, recoveryCodeLen/2)
		if _, err := rand.Read(b); err != nil {
			return nil, nil, fmt.Errorf("generate recovery code: %w", err)
		}
		code := hex.EncodeToString(b)
		plain[i] = code
		stored[i] = code
	}
	return plain, stored, nil
}

// ValidateRecoveryCode checks a recovery code against the stored codes.
// Returns the index of the matched code, or -1 if no match.
// Uses constant-time comparison to avoid timing attacks.
func ValidateRecoveryCode(input string, stored []string) int {
	for i, code := range stored {
		if subtle.ConstantTimeCompare([]byte(input), []byte(code)) == 1 {
			return i
		}
	}
	return -1
}

// BeginTOTPEnrollment generates a secret for the user and stores it
// unconfirmed. TOTPEnabled stays false until the user proves possession
// with ConfirmTOTPEnrollment.
func (s *Service) BeginTOTPEnrollment(ctx context.Context, userID string) (*otp.Key, error) {
	user, err := s.Users.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	key, err := GenerateTOTPSecret(user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate TOTP secret: %w", err)
	}
	user.TOTPSecret = key.Secret()
	user.TOTPEnabled = false
	user.UpdatedAt = time.Now().UTC()
	if err := s.Users.UpdateUser(*user); err != nil {
		return nil, fmt.Errorf("store TOTP secret: %w", err)
	}
	return key, nil
}

// ConfirmTOTPEnrollment verifies the first code and switches TOTP on.
// Returns fresh recovery codes for the user to write down.
func (s *Service) ConfirmTOTPEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.Users.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || user.TOTPSecret == "" {
		return nil, fmt.Errorf("no TOTP enrollment in progress")
	}
	if !ValidateTOTPCode(user.TOTPSecret, code) {
		return nil, ErrInvalidCredentials
	}
	plain, stored, err := GenerateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	user.TOTPEnabled = true
	user.RecoveryCodes = stored
	user.UpdatedAt = time.Now().UTC()
	if err := s.Users.UpdateUser(*user); err != nil {
		return nil, fmt.Errorf("enable TOTP: %w", err)
	}
	s.Log.Info("TOTP enabled", "user_id", user.ID)
	return plain, nil
}

// DisableTOTP turns off the second factor and clears the secret.
func (s *Service) DisableTOTP(ctx context.Context, userID string) error {
	user, err := s.Users.GetUser(userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %s not found", userID)
	}
	user.TOTPSecret = ""
	user.TOTPEnabled = false
	user.RecoveryCodes = nil
	user.UpdatedAt = time.Now().UTC()
	if err := s.Users.UpdateUser(*user); err != nil {
		return fmt.Errorf("disable TOTP: %w", err)
	}
	s.Log.Info("TOTP disabled", "user_id", user.ID)
	return nil
}

// FinishTOTPSignIn completes a pending password sign-in with a TOTP or
// recovery code. The pending token is single-use.
func (s *Service) FinishTOTPSignIn(ctx context.Context, pendingToken, code, ip, userAgent string) (*Session, error) {
	userID := s.pending.Take(pendingToken)
	if userID == "" {
		return nil, ErrTOTPNotPending
	}
	user, err := s.Users.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || !user.TOTPEnabled {
		return nil, ErrInvalidCredentials
	}

	if !ValidateTOTPCode(user.TOTPSecret, code) {
		idx := ValidateRecoveryCode(code, user.RecoveryCodes)
		if idx < 0 {
			s.rateLimiter.RecordFailure(ip)
			return nil, ErrInvalidCredentials
		}
		// Recovery codes are one-time.
		user.RecoveryCodes = append(user.RecoveryCodes[:idx], user.RecoveryCodes[idx+1:]...)
		user.UpdatedAt = time.Now().UTC()
		if err := s.Users.UpdateUser(*user); err != nil {
			return nil, fmt.Errorf("consume recovery code: %w", err)
		}
		s.Log.Warn("recovery code used", "user_id", user.ID, "remaining", len(user.RecoveryCodes))
	}

	return s.createSession(user, ProviderCredentials, ip, userAgent)
}
