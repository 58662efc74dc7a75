package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"
)

const (
	// ProviderEmail is the provider name stamped on magic-link accounts.
	ProviderEmail = "email"

	magicLinkTokenBytes = 32
	magicLinkTTL        = 24 * time.Hour
)

// hashToken returns the hex sha256 of a verification token. Only the
// hash is persisted, so a leaked store cannot mint valid links.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// StartEmailSignIn generates a single-use verification token for the
// email, stores its hash and mails the sign-in link. The same response
// is produced whether or not the address is known.
func (s *Service) StartEmailSignIn(ctx context.Context, email, ip string) error {
	if s.Mailer == nil {
		return fmt.Errorf("no mailer configured")
	}
	if !s.rateLimiter.Allow(ip) {
		return ErrRateLimited
	}

	b := make([]byte, magicLinkTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	token := hex.EncodeToString(b)

	expiresAt := time.Now().UTC().Add(magicLinkTTL)
	if err := s.Tokens.SaveVerificationToken(hashToken(token), email, expiresAt); err != nil {
		return fmt.Errorf("save verification token: %w", err)
	}

	link := fmt.Sprintf("%s/auth/email/verify?token=%s", s.BaseURL, url.QueryEscape(token))
	if err := s.Mailer.SendMagicLink(ctx, email, link); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}
	s.Log.Info("magic link sent", "email", email)
	return nil
}

// VerifyEmailSignIn consumes a verification token and signs the holder
// in, creating the user on first use. A consumed, expired or unknown
// token yields ErrInvalidToken.
func (s *Service) VerifyEmailSignIn(ctx context.Context, token, ip, userAgent string) (*Session, error) {
	email, err := s.Tokens.ConsumeVerificationToken(hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	if email == "" {
		return nil, ErrInvalidToken
	}

	user, created, err := s.findOrCreateUser(email, "", true)
	if err != nil {
		return nil, err
	}
	if user.EmailVerified == nil {
		now := time.Now().UTC()
		user.EmailVerified = &now
		user.UpdatedAt = now
		if err := s.Users.UpdateUser(*user); err != nil {
			return nil, fmt.Errorf("mark email verified: %w", err)
		}
	}
	if created {
		account := Account{
			UserID:            user.ID,
			Type:              AccountTypeEmail,
			Provider:          ProviderEmail,
			ProviderAccountID: email,
			CreatedAt:         time.Now().UTC(),
		}
		if err := s.Accounts.LinkAccount(account); err != nil {
			return nil, fmt.Errorf("link email account: %w", err)
		}
	}

	return s.createSession(user, ProviderEmail, ip, userAgent)
}
