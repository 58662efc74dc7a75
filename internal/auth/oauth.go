package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"passgate/internal/events"
)

// OIDCConfig holds the OIDC provider configuration.
type OIDCConfig struct {
	Enabled      bool
	Name         string // provider name stamped on accounts, default "oidc"
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCProvider wraps OIDC discovery, the OAuth2 code flow and ID token
// verification.
type OIDCProvider struct {
	mu        sync.RWMutex
	name      string
	provider  *oidc.Provider
	verifier  *oidc.IDTokenVerifier
	oauth2Cfg oauth2.Config
}

// ProviderIdentity is the external identity extracted from a provider
// response. Subject is the provider-scoped stable ID.
type ProviderIdentity struct {
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
}

// NewOIDCProvider initialises the OIDC provider via discovery.
// Returns nil, nil if the config is not enabled or incomplete.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if !cfg.Enabled || cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	oauth2Cfg := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	name := cfg.Name
	if name == "" {
		name = "oidc"
	}

	return &OIDCProvider{
		name:      name,
		provider:  provider,
		verifier:  provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Cfg: oauth2Cfg,
	}, nil
}

// Name returns the provider name stamped on linked accounts.
func (p *OIDCProvider) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// AuthURL generates the authorization URL with the given state parameter.
func (p *OIDCProvider) AuthURL(state string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.oauth2Cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens and extracts the
// verified identity from the ID token.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*ProviderIdentity, error) {
	p.mu.RLock()
	cfg := p.oauth2Cfg
	verifier := p.verifier
	p.mu.RUnlock()

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in response")
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("token verification: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	return &ProviderIdentity{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// OAuthProvider is a plain OAuth2 provider without OIDC discovery. The
// identity comes from a userinfo-style endpoint described in the
// provider catalog.
type OAuthProvider struct {
	Spec      ProviderSpec
	oauth2Cfg oauth2.Config
}

// NewOAuthProvider builds a provider from a catalog entry.
func NewOAuthProvider(spec ProviderSpec, clientID, clientSecret, redirectURL string) *OAuthProvider {
	return &OAuthProvider{
		Spec: spec,
		oauth2Cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spec.AuthURL,
				TokenURL: spec.TokenURL,
			},
			Scopes: spec.Scopes,
		},
	}
}

// Name returns the provider name stamped on linked accounts.
func (p *OAuthProvider) Name() string { return p.Spec.Name }

// AuthURL generates the authorization URL with the given state parameter.
func (p *OAuthProvider) AuthURL(state string) string {
	return p.oauth2Cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token and fetches the
// identity from the userinfo endpoint.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*ProviderIdentity, error) {
	token, err := p.oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	client := p.oauth2Cfg.Client(ctx, token)
	resp, err := client.Get(p.Spec.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read userinfo: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse userinfo: %w", err)
	}

	identity := &ProviderIdentity{
		Subject: stringField(raw, p.Spec.SubjectField),
		Email:   stringField(raw, p.Spec.EmailField),
		Name:    stringField(raw, p.Spec.NameField),
	}
	if identity.Subject == "" {
		return nil, fmt.Errorf("userinfo missing %q field", p.Spec.SubjectField)
	}
	return identity, nil
}

// stringField reads a field from a userinfo document, stringifying
// numeric IDs (GitHub returns id as a number).
func stringField(raw map[string]any, field string) string {
	if field == "" {
		return ""
	}
	switch v := raw[field].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// GenerateOAuthState creates a random 16-byte hex-encoded state parameter.
func GenerateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SignInWithProvider resolves an external identity to a local user and
// mints a session. The account link is the source of truth: a known
// (provider, subject) pair signs its owner in regardless of email
// changes at the provider. Unknown pairs fall back to email matching,
// then to creating a fresh user.
func (s *Service) SignInWithProvider(ctx context.Context, provider, accountType string, identity *ProviderIdentity, ip, userAgent string) (*Session, error) {
	user, err := s.Accounts.GetUserByAccount(provider, identity.Subject)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if user == nil {
		if identity.Email == "" {
			return nil, fmt.Errorf("provider %s returned no email for subject %s", provider, identity.Subject)
		}
		var created bool
		user, created, err = s.findOrCreateUser(identity.Email, identity.Name, identity.EmailVerified)
		if err != nil {
			return nil, err
		}
		account := Account{
			UserID:            user.ID,
			Type:              accountType,
			Provider:          provider,
			ProviderAccountID: identity.Subject,
			CreatedAt:         time.Now().UTC(),
		}
		if err := s.Accounts.LinkAccount(account); err != nil {
			return nil, fmt.Errorf("link %s account: %w", provider, err)
		}
		s.Log.Info("provider account linked",
			"provider", provider, "user_id", user.ID, "new_user", created)
		s.publish(events.EventLinkAccount, user.ID, provider, "")
	}

	return s.createSession(user, provider, ip, userAgent)
}
