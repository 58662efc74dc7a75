package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"passgate/internal/events"
	"passgate/internal/passkey"
)

// UserStore is the interface for user persistence.
type UserStore interface {
	CreateUser(user User) error
	GetUser(id string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	UpdateUser(user User) error
	UserCount() (int, error)
}

// AccountStore is the interface for provider-link persistence.
type AccountStore interface {
	LinkAccount(account Account) error
	GetUserByAccount(provider, providerAccountID string) (*User, error)
	ListAccountsForUser(userID string) ([]Account, error)
}

// SessionStore is the interface for session persistence.
type SessionStore interface {
	CreateSession(session Session) error
	GetSession(token string) (*Session, error)
	DeleteSession(token string) error
	DeleteSessionsForUser(userID string) error
	DeleteExpiredSessions() (int, error)
}

// VerificationTokenStore persists hashed magic-link tokens. Consume is
// single-use: a token read once is gone.
type VerificationTokenStore interface {
	SaveVerificationToken(tokenHash, email string, expiresAt time.Time) error
	ConsumeVerificationToken(tokenHash string) (email string, err error)
	DeleteExpiredVerificationTokens() (int, error)
}

// PasskeyStore owns the registration create transaction: user, account
// and authenticator land atomically or not at all.
type PasskeyStore interface {
	CreatePasskey(user User, account Account, authenticator passkey.Authenticator) error
	ListAuthenticatorsForUser(userID string) ([]passkey.Authenticator, error)
}

// MagicLinkSender delivers sign-in links. Implemented by internal/mailer.
type MagicLinkSender interface {
	SendMagicLink(ctx context.Context, to, url string) error
}

// Service aggregates the stores, the passkey engine and the provider
// registry into the sign-in flows.
type Service struct {
	Users    UserStore
	Accounts AccountStore
	Sessions SessionStore
	Tokens   VerificationTokenStore
	Passkeys PasskeyStore

	Passkey *passkey.Engine
	OIDC    *OIDCProvider
	OAuth   map[string]*OAuthProvider
	Mailer  MagicLinkSender
	Events  *events.Bus
	Log     *slog.Logger

	BaseURL       string // external base URL for link building
	CookieSecure  bool
	SessionExpiry time.Duration

	pending     *PendingStore
	rateLimiter *RateLimiter
}

// ServiceConfig holds the configuration for creating a Service.
type ServiceConfig struct {
	Users    UserStore
	Accounts AccountStore
	Sessions SessionStore
	Tokens   VerificationTokenStore
	Passkeys PasskeyStore

	Passkey *passkey.Engine
	OIDC    *OIDCProvider
	OAuth   map[string]*OAuthProvider
	Mailer  MagicLinkSender
	Events  *events.Bus
	Log     *slog.Logger

	BaseURL       string
	CookieSecure  bool
	SessionExpiry time.Duration
}

// NewService creates a new auth service.
func NewService(cfg ServiceConfig) *Service {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	expiry := cfg.SessionExpiry
	if expiry <= 0 {
		expiry = 30 * 24 * time.Hour
	}
	return &Service{
		Users:         cfg.Users,
		Accounts:      cfg.Accounts,
		Sessions:      cfg.Sessions,
		Tokens:        cfg.Tokens,
		Passkeys:      cfg.Passkeys,
		Passkey:       cfg.Passkey,
		OIDC:          cfg.OIDC,
		OAuth:         cfg.OAuth,
		Mailer:        cfg.Mailer,
		Events:        cfg.Events,
		Log:           log,
		BaseURL:       cfg.BaseURL,
		CookieSecure:  cfg.CookieSecure,
		SessionExpiry: expiry,
		pending:       NewPendingStore(),
		rateLimiter:   NewRateLimiter(),
	}
}

// createSession mints and persists a session for the user.
func (s *Service) createSession(user *User, provider, ip, userAgent string) (*Session, error) {
	token, err := GenerateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	session := Session{
		Token:     token,
		UserID:    user.ID,
		IP:        ip,
		UserAgent: userAgent,
		Provider:  provider,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(s.SessionExpiry),
	}
	if err := s.Sessions.CreateSession(session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.publish(events.EventSignIn, user.ID, provider, "")
	return &session, nil
}

// publish emits an auth event if a bus is wired.
func (s *Service) publish(typ events.EventType, userID, provider, message string) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(events.Event{
		Type:      typ,
		UserID:    userID,
		Provider:  provider,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// ValidateSession checks a session token and returns a RequestContext if
// valid.
func (s *Service) ValidateSession(ctx context.Context, token string) *RequestContext {
	session, err := s.Sessions.GetSession(token)
	if err != nil || session == nil {
		return nil
	}
	if time.Now().After(session.ExpiresAt) {
		_ = s.Sessions.DeleteSession(token)
		return nil
	}
	user, err := s.Users.GetUser(session.UserID)
	if err != nil || user == nil {
		return nil
	}
	return &RequestContext{User: user, Session: session}
}

// SignOut revokes a session.
func (s *Service) SignOut(token string) error {
	session, err := s.Sessions.GetSession(token)
	if err == nil && session != nil {
		s.publish(events.EventSignOut, session.UserID, session.Provider, "")
	}
	return s.Sessions.DeleteSession(token)
}

// CleanupExpired removes expired sessions and verification tokens and
// prunes stale rate-limiter entries.
func (s *Service) CleanupExpired() (sessions, tokens int) {
	s.rateLimiter.Cleanup()
	if n, err := s.Sessions.DeleteExpiredSessions(); err == nil {
		sessions = n
	}
	if s.Tokens != nil {
		if n, err := s.Tokens.DeleteExpiredVerificationTokens(); err == nil {
			tokens = n
		}
	}
	return sessions, tokens
}

// GenerateUserID creates a random user ID.
func GenerateUserID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// findOrCreateUser resolves a user by email, creating one when absent.
// Returns the user and whether it was created.
func (s *Service) findOrCreateUser(email, name string, verified bool) (*User, bool, error) {
	user, err := s.Users.GetUserByEmail(email)
	if err != nil {
		return nil, false, fmt.Errorf("lookup user by email: %w", err)
	}
	if user != nil {
		return user, false, nil
	}

	id, err := GenerateUserID()
	if err != nil {
		return nil, false, fmt.Errorf("generate user ID: %w", err)
	}
	now := time.Now().UTC()
	user = &User{
		ID:        id,
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if verified {
		user.EmailVerified = &now
	}
	if err := s.Users.CreateUser(*user); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	s.publish(events.EventUserCreated, user.ID, "", email)
	return user, true, nil
}

// Sentinel errors shared by the flows.
var (
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrRateLimited        = fmt.Errorf("too many login attempts")
	ErrAccountLocked      = fmt.Errorf("account is locked")
	ErrInvalidToken       = fmt.Errorf("invalid or expired token")
	ErrUnknownProvider    = fmt.Errorf("unknown provider")
)
