package passkey

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultChallengeCookie names the cookie carrying the signed
	// challenge record.
	DefaultChallengeCookie = "passgate_challenge"

	// DefaultChallengeTTL bounds how long an issued challenge stays
	// usable. Expiry is enforced by the token itself, not the engine.
	DefaultChallengeTTL = 5 * time.Minute

	challengeBytes = 32
)

// Challenge is the record carried by the signed challenge cookie. It is
// created when a flow is initiated and read exactly once per verification
// attempt. ProviderAccountID is set only for registration challenges.
type Challenge struct {
	Challenge         string
	ProviderAccountID string
}

type challengeClaims struct {
	Challenge         string `json:"challenge"`
	ProviderAccountID string `json:"providerAccountId,omitempty"`
	jwt.RegisteredClaims
}

// ChallengeStore signs challenge records into a tamper-evident cookie and
// reads them back. A missing cookie, a malformed value, a bad signature
// and an expired token are indistinguishable to callers: all read as nil.
type ChallengeStore struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewChallengeStore creates a store signing with the given secret.
func NewChallengeStore(secret []byte, secure bool) *ChallengeStore {
	return &ChallengeStore{
		secret:     secret,
		cookieName: DefaultChallengeCookie,
		ttl:        DefaultChallengeTTL,
		secure:     secure,
	}
}

// GenerateChallenge returns a fresh random challenge, base64url encoded.
func GenerateChallenge() (string, error) {
	b := make([]byte, challengeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue signs a challenge record into a cookie. providerAccountID is
// empty for authentication challenges.
func (cs *ChallengeStore) Issue(challenge, providerAccountID string) (*http.Cookie, error) {
	now := time.Now()
	claims := challengeClaims{
		Challenge:         challenge,
		ProviderAccountID: providerAccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cs.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cs.secret)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     cs.cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(cs.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   cs.secure,
	}, nil
}

// Read decodes the challenge record from the cookie jar. Returns nil on
// absence or any verification failure; callers treat that as a
// recoverable rejection, since it is routinely triggered by expired
// sessions or replayed links.
func (cs *ChallengeStore) Read(cookies []*http.Cookie) *Challenge {
	var raw string
	for _, c := range cookies {
		if c.Name == cs.cookieName && c.Value != "" {
			raw = c.Value
			break
		}
	}
	if raw == "" {
		return nil
	}

	var claims challengeClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return cs.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.Challenge == "" {
		return nil
	}

	return &Challenge{
		Challenge:         claims.Challenge,
		ProviderAccountID: claims.ProviderAccountID,
	}
}

// Clear returns a cookie that expires the challenge immediately. Flows
// send it on every terminal outcome so a challenge record is never
// reusable by a second attempt.
func (cs *ChallengeStore) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     cs.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   cs.secure,
	}
}

// CookieName returns the name of the challenge cookie.
func (cs *ChallengeStore) CookieName() string { return cs.cookieName }
