// Package passkey implements the WebAuthn credential verification engine:
// signed challenge handling, cryptographic verification policy, and
// reconciliation of verified credentials against a pluggable persistence
// adapter.
//
// The engine separates outcomes into two tiers. Conditions a user can
// trigger (bad input shape, missing or expired challenge, unknown
// credential, failed verification) come back as *Rejection with a message
// safe to display. Conditions that indicate a system or integration fault
// (missing adapter, persistence failure, data corruption) come back as a
// kind-tagged *Error, logged with full detail at the point of detection.
package passkey

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Engine composes the challenge store, the credential verifier and the
// adapter into the two supported flows. Stateless across calls except for
// reads and writes through the adapter.
type Engine struct {
	adapter    Adapter
	verifier   Verifier
	challenges *ChallengeStore
	provider   string
	log        *slog.Logger
}

// Config holds everything an Engine needs.
type Config struct {
	Adapter    Adapter
	Verifier   Verifier
	Challenges *ChallengeStore
	Provider   string // provider id, defaults to "passkey"
	Log        *slog.Logger
}

// NewEngine creates an Engine. A nil Adapter is allowed here so engines
// can be constructed incrementally, but any flow invoked without one
// fails with a KindMissingAdapter fault.
func NewEngine(cfg Config) *Engine {
	provider := cfg.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		adapter:    cfg.Adapter,
		verifier:   cfg.Verifier,
		challenges: cfg.Challenges,
		provider:   provider,
		log:        log,
	}
}

// Provider returns the provider id the engine stamps on accounts.
func (e *Engine) Provider() string { return e.provider }

// Challenges exposes the challenge store, so callers can clear the cookie
// on terminal outcomes.
func (e *Engine) Challenges() *ChallengeStore { return e.challenges }

// BeginAuthentication issues a fresh challenge and the cookie carrying it.
func (e *Engine) BeginAuthentication() (string, *http.Cookie, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return "", nil, err
	}
	cookie, err := e.challenges.Issue(challenge, "")
	if err != nil {
		return "", nil, err
	}
	return challenge, cookie, nil
}

// BeginRegistration issues a fresh challenge bound to the given
// providerAccountID, which registration verification later requires.
func (e *Engine) BeginRegistration(providerAccountID string) (string, *http.Cookie, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return "", nil, err
	}
	cookie, err := e.challenges.Issue(challenge, providerAccountID)
	if err != nil {
		return "", nil, err
	}
	return challenge, cookie, nil
}

// clientResponse is the minimal shape the engine inspects itself; the
// rest of the payload is opaque and handed to the verifier as raw bytes.
// Transports live in the raw response metadata, outside the cryptographic
// payload, which is why registration reads them from here rather than
// from the verification result.
type clientResponse struct {
	ID       *string `json:"id"`
	Response struct {
		Transports []string `json:"transports"`
	} `json:"response"`
}

// parseClientResponse enforces the basic shape rule: a JSON object with a
// non-empty string id. Anything else is a user-input rejection, never a
// fault.
func parseClientResponse(raw []byte) (*clientResponse, bool) {
	var shape clientResponse
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, false
	}
	if shape.ID == nil || *shape.ID == "" {
		return nil, false
	}
	return &shape, true
}

// decodeCredentialID decodes a client-supplied credential id. WebAuthn
// ids are base64url without padding, but padded values are tolerated.
func decodeCredentialID(id string) ([]byte, bool) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(id, "="))
	if err != nil {
		return nil, false
	}
	return decoded, true
}
