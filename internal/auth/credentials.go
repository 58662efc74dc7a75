package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// ProviderCredentials is the provider name stamped on password accounts.
const ProviderCredentials = "credentials"

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordNoLetter = errors.New("password must contain at least one letter")
	ErrPasswordNoDigit  = errors.New("password must contain at least one digit")
	ErrEmailTaken       = errors.New("email already registered")
)

// ValidatePassword checks the password meets the minimum policy.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	if !hasLetter {
		return ErrPasswordNoLetter
	}
	if !hasDigit {
		return ErrPasswordNoDigit
	}
	return nil
}

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SignInResult is the outcome of a password sign-in. Exactly one of the
// fields is set: a session when the sign-in is complete, or a pending
// token when a TOTP code must still be supplied.
type SignInResult struct {
	Session      *Session
	PendingToken string
}

// SignUpWithPassword registers a new user with email and password and
// links a credentials account.
func (s *Service) SignUpWithPassword(ctx context.Context, email, password, name string) (*User, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.Users.GetUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}
	if existing != nil && existing.PasswordHash != "" {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, created, err := s.findOrCreateUser(email, name, false)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now().UTC()
	if err := s.Users.UpdateUser(*user); err != nil {
		return nil, fmt.Errorf("store password hash: %w", err)
	}

	account := Account{
		UserID:            user.ID,
		Type:              AccountTypeCredentials,
		Provider:          ProviderCredentials,
		ProviderAccountID: user.ID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.Accounts.LinkAccount(account); err != nil {
		return nil, fmt.Errorf("link credentials account: %w", err)
	}

	s.Log.Info("user signed up", "user_id", user.ID, "created", created)
	return user, nil
}

// SignInWithPassword checks email and password and either mints a
// session or, when the user has TOTP enabled, returns a pending token
// for the second step. Failures count against both the caller IP and
// the account.
func (s *Service) SignInWithPassword(ctx context.Context, email, password, ip, userAgent string) (*SignInResult, error) {
	if !s.rateLimiter.Allow(ip) {
		s.Log.Warn("sign-in rate limited", "ip", ip)
		return nil, ErrRateLimited
	}

	user, err := s.Users.GetUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		// Burn a bcrypt comparison so absent users cost the same as
		// wrong passwords.
		CheckPassword("$2a$12$buBMenaFmGRbQBwAjXl5b.pijRIrlnBKXSFU/hTOuTZSGVgCl9/aa", password)
		s.rateLimiter.RecordFailure(ip)
		return nil, ErrInvalidCredentials
	}

	if user.Locked {
		if time.Now().Before(user.LockedUntil) {
			s.Log.Warn("sign-in on locked account", "user_id", user.ID, "ip", ip)
			return nil, ErrAccountLocked
		}
		user.Locked = false
		user.LockedUntil = time.Time{}
		user.FailedLogins = 0
		if err := s.Users.UpdateUser(*user); err != nil {
			return nil, fmt.Errorf("unlock account: %w", err)
		}
	}

	if !CheckPassword(user.PasswordHash, password) {
		user.FailedLogins++
		if user.FailedLogins >= accountLockout {
			user.Locked = true
			user.LockedUntil = time.Now().Add(accountLockoutDur)
			s.Log.Warn("account locked after repeated failures", "user_id", user.ID, "failures", user.FailedLogins)
		}
		if err := s.Users.UpdateUser(*user); err != nil {
			s.Log.Error("record failed login", "user_id", user.ID, "error", err)
		}
		s.rateLimiter.RecordFailure(ip)
		return nil, ErrInvalidCredentials
	}

	if user.FailedLogins > 0 {
		user.FailedLogins = 0
		if err := s.Users.UpdateUser(*user); err != nil {
			s.Log.Error("clear failed logins", "user_id", user.ID, "error", err)
		}
	}
	s.rateLimiter.Reset(ip)

	if user.TOTPEnabled {
		token, err := GenerateSessionToken()
		if err != nil {
			return nil, fmt.Errorf("generate pending token: %w", err)
		}
		s.pending.Put(token, user.ID)
		return &SignInResult{PendingToken: token}, nil
	}

	session, err := s.createSession(user, ProviderCredentials, ip, userAgent)
	if err != nil {
		return nil, err
	}
	return &SignInResult{Session: session}, nil
}
