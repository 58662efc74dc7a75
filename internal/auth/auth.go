package auth

import "time"

// Account types stamped on provider links.
const (
	AccountTypeCredentials = "credentials"
	AccountTypeEmail       = "email"
	AccountTypeOAuth       = "oauth"
	AccountTypeOIDC        = "oidc"
	AccountTypeWebAuthn    = "webauthn"
)

// User represents an account holder. A user may sign in through any
// linked provider; password and TOTP fields are set only when the
// credentials flow is in use.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	EmailVerified *time.Time `json:"email_verified,omitempty"`
	PasswordHash  string     `json:"password_hash,omitempty"`
	TOTPSecret    string     `json:"totp_secret,omitempty"`
	TOTPEnabled   bool       `json:"totp_enabled,omitempty"`
	RecoveryCodes []string   `json:"recovery_codes,omitempty"`
	Locked        bool       `json:"locked,omitempty"`        // locked after too many failed logins
	LockedUntil   time.Time  `json:"locked_until,omitempty"`  // unlock time
	FailedLogins  int        `json:"failed_logins,omitempty"` // consecutive failures
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Account links a user to a provider identity. Immutable after creation;
// reading it back resolves the owning user at sign-in.
type Account struct {
	UserID            string    `json:"user_id"`
	Type              string    `json:"type"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"provider_account_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Session represents an active login.
type Session struct {
	Token     string    `json:"token"` // 64-char hex token (also the store key)
	UserID    string    `json:"user_id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Provider  string    `json:"provider"` // which flow minted the session
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestContext is extracted from the request by middleware and placed
// in context.
type RequestContext struct {
	User    *User
	Session *Session
}

// contextKey is an unexported type for context keys.
type contextKey struct{}

// ContextKey is the key used to store RequestContext in context.Context.
var ContextKey = contextKey{}
