package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"passgate/internal/events"
	"passgate/internal/passkey"
)

// BeginPasskeyLogin starts a passkey authentication ceremony. The
// returned cookie binds the challenge to the browser; the challenge
// itself goes to the client for the authenticator to sign.
func (s *Service) BeginPasskeyLogin() (string, *http.Cookie, error) {
	if s.Passkey == nil {
		return "", nil, ErrUnknownProvider
	}
	return s.Passkey.BeginAuthentication()
}

// BeginPasskeyRegistration starts a passkey registration ceremony with
// a freshly minted provider account ID.
func (s *Service) BeginPasskeyRegistration() (string, *http.Cookie, error) {
	if s.Passkey == nil {
		return "", nil, ErrUnknownProvider
	}
	return s.Passkey.BeginRegistration(uuid.NewString())
}

// PasskeyResult is the outcome of finishing a passkey ceremony. Session
// is set on success; Reason carries the user-facing text when the
// attempt was rejected. ClearChallenge is non-nil whenever the
// challenge cookie must be expired, which is every terminal outcome:
// the challenge is single-use whether or not the ceremony succeeded.
type PasskeyResult struct {
	Session        *Session
	Reason         string
	ClearChallenge *http.Cookie
}

// FinishPasskeyLogin completes a passkey authentication ceremony and
// mints a session for the credential's owner.
func (s *Service) FinishPasskeyLogin(ctx context.Context, cookies []*http.Cookie, response []byte, ip, userAgent string) (*PasskeyResult, error) {
	if s.Passkey == nil {
		return nil, ErrUnknownProvider
	}
	expired := s.Passkey.Challenges().Clear()

	success, err := s.Passkey.VerifyAuthentication(ctx, cookies, response)
	if err != nil {
		if reason, ok := passkey.RejectionReason(err); ok {
			return &PasskeyResult{Reason: reason, ClearChallenge: expired}, nil
		}
		return nil, err
	}

	user, err := s.Users.GetUser(success.User.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s owns credential but does not exist", success.User.ID)
	}

	session, err := s.createSession(user, s.Passkey.Provider(), ip, userAgent)
	if err != nil {
		return nil, err
	}
	return &PasskeyResult{Session: session, ClearChallenge: expired}, nil
}

// FinishPasskeyRegistration completes a registration ceremony, persists
// the new credential and signs the user in. User, account and
// authenticator are stored in one transaction.
func (s *Service) FinishPasskeyRegistration(ctx context.Context, cookies []*http.Cookie, response []byte, email, ip, userAgent string) (*PasskeyResult, error) {
	if s.Passkey == nil {
		return nil, ErrUnknownProvider
	}
	expired := s.Passkey.Challenges().Clear()

	success, err := s.Passkey.VerifyRegistration(ctx, cookies, response, email)
	if err != nil {
		if reason, ok := passkey.RejectionReason(err); ok {
			return &PasskeyResult{Reason: reason, ClearChallenge: expired}, nil
		}
		return nil, err
	}

	user, err := s.Users.GetUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}
	created := false
	if user == nil {
		id, err := GenerateUserID()
		if err != nil {
			return nil, fmt.Errorf("generate user ID: %w", err)
		}
		now := time.Now().UTC()
		user = &User{ID: id, Email: email, CreatedAt: now, UpdatedAt: now}
		created = true
	}

	account := Account{
		UserID:            user.ID,
		Type:              AccountTypeWebAuthn,
		Provider:          success.Account.Provider,
		ProviderAccountID: success.Account.ProviderAccountID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.Passkeys.CreatePasskey(*user, account, *success.Authenticator); err != nil {
		return nil, fmt.Errorf("store passkey: %w", err)
	}
	if created {
		s.publish(events.EventUserCreated, user.ID, s.Passkey.Provider(), email)
	}
	s.publish(events.EventPasskeyRegistered, user.ID, s.Passkey.Provider(), "")
	s.Log.Info("passkey registered", "user_id", user.ID, "new_user", created)

	session, err := s.createSession(user, s.Passkey.Provider(), ip, userAgent)
	if err != nil {
		return nil, err
	}
	return &PasskeyResult{Session: session, ClearChallenge: expired}, nil
}

// ListPasskeys returns the authenticators registered to a user.
func (s *Service) ListPasskeys(userID string) ([]passkey.Authenticator, error) {
	return s.Passkeys.ListAuthenticatorsForUser(userID)
}
