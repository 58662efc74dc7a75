package passkey

import (
	"context"
	"net/http"
)

// VerifyRegistration validates a client registration attestation and
// assembles the user, account and authenticator records for the caller to
// persist. Nothing is written here: the create-account/create-authenticator
// transaction belongs to the caller, whose shape depends on storage
// capabilities beyond this engine's concern.
//
// The challenge cookie must carry the providerAccountId established when
// the registration challenge was issued; its absence indicates a corrupted
// or foreign challenge and rejects the attempt.
func (e *Engine) VerifyRegistration(ctx context.Context, cookies []*http.Cookie, response []byte, email string) (*RegistrationSuccess, error) {
	if e.adapter == nil {
		return nil, fault(KindMissingAdapter, "passkey engine requires an adapter", nil)
	}

	if email == "" {
		return nil, reject(RejectEmailRequired)
	}

	shape, ok := parseClientResponse(response)
	if !ok {
		return nil, reject(RejectInvalidResponse)
	}

	challenge := e.challenges.Read(cookies)
	if challenge == nil {
		return nil, reject(RejectMissingChallenge)
	}
	if challenge.ProviderAccountID == "" {
		return nil, reject(RejectMissingProviderAccount)
	}

	attestation, err := e.verifier.VerifyRegistration(response, challenge.Challenge, challenge.ProviderAccountID)
	if err != nil {
		e.log.Error("webauthn attestation verification failed",
			"credential_id", *shape.ID,
			"error", err,
		)
		return nil, fault(KindVerification, "webauthn verification failed", err)
	}
	if !attestation.Verified {
		return nil, reject(RejectVerificationFailed)
	}

	user := &User{ID: email, Email: email}
	account := &Account{
		UserID:            user.ID,
		Type:              AccountTypeWebAuthn,
		Provider:          e.provider,
		ProviderAccountID: challenge.ProviderAccountID,
	}
	authenticator := &Authenticator{
		CredentialID:         attestation.CredentialID,
		ProviderAccountID:    challenge.ProviderAccountID,
		CredentialPublicKey:  attestation.CredentialPublicKey,
		Counter:              attestation.Counter,
		CredentialDeviceType: attestation.CredentialDeviceType,
		CredentialBackedUp:   attestation.CredentialBackedUp,
		Transports:           shape.Response.Transports,
	}

	return &RegistrationSuccess{
		Authenticator: authenticator,
		Account:       account,
		User:          user,
	}, nil
}
