package passkey

import (
	"context"
	"net/http"
)

// VerifyAuthentication validates a client authentication assertion
// against the stored challenge and persisted authenticator, persists the
// new signature counter, and resolves the owning user and account.
//
// Recoverable conditions return a *Rejection; system faults return a
// kind-tagged *Error. The caller must clear the challenge cookie on every
// terminal outcome so a challenge record is never reused by a second
// successful attempt.
func (e *Engine) VerifyAuthentication(ctx context.Context, cookies []*http.Cookie, response []byte) (*AuthenticationSuccess, error) {
	if e.adapter == nil {
		return nil, fault(KindMissingAdapter, "passkey engine requires an adapter", nil)
	}

	shape, ok := parseClientResponse(response)
	if !ok {
		return nil, reject(RejectInvalidResponse)
	}

	challenge := e.challenges.Read(cookies)
	if challenge == nil {
		return nil, reject(RejectMissingChallenge)
	}

	credentialID, ok := decodeCredentialID(*shape.ID)
	if !ok {
		return nil, reject(RejectInvalidResponse)
	}

	authenticator, err := e.adapter.GetAuthenticator(ctx, credentialID)
	if err != nil {
		return nil, fault(KindAdapter, "authenticator lookup failed", err)
	}
	if authenticator == nil {
		e.log.Debug("authenticator not found", "credential_id", *shape.ID)
		return nil, reject(RejectAuthenticatorNotFound)
	}

	assertion, err := e.verifier.VerifyAuthentication(response, challenge.Challenge, authenticator)
	if err != nil {
		// Full detail server-side, generic message to the caller.
		e.log.Error("webauthn assertion verification failed",
			"credential_id", *shape.ID,
			"error", err,
		)
		return nil, fault(KindVerification, "webauthn verification failed", err)
	}
	if !assertion.Verified {
		return nil, reject(RejectVerificationFailed)
	}

	if err := e.adapter.UpdateAuthenticatorCounter(ctx, authenticator, assertion.NewCounter); err != nil {
		// An un-persisted counter reopens a replay window, so the attempt
		// must abort even though the cryptographic check already passed.
		e.log.Error("failed to update authenticator counter, future authentication attempts may fail",
			"credential_id", *shape.ID,
			"old_counter", authenticator.Counter,
			"new_counter", assertion.NewCounter,
			"error", err,
		)
		return nil, fault(KindAdapter, "failed to update authenticator counter", err)
	}

	user, err := e.adapter.GetUserByAccount(ctx, e.provider, authenticator.ProviderAccountID)
	if err != nil {
		return nil, fault(KindAdapter, "account lookup failed", err)
	}
	if user == nil {
		// The authenticator exists, so an account must exist. Reaching
		// this point means the stores disagree.
		e.log.Error("no user for verified authenticator",
			"provider", e.provider,
			"provider_account_id", authenticator.ProviderAccountID,
		)
		return nil, fault(KindDataIntegrity, "user not found for verified authenticator", nil)
	}

	return &AuthenticationSuccess{
		Account: &Account{
			UserID:            user.ID,
			Type:              AccountTypeWebAuthn,
			Provider:          e.provider,
			ProviderAccountID: authenticator.ProviderAccountID,
		},
		User: user,
	}, nil
}
