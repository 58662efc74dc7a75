package passkey

import (
	"bytes"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// RelyingParty identifies the service verifying credentials: the expected
// WebAuthn origin and relying-party identifier.
type RelyingParty struct {
	ID     string // RP identifier, e.g. "example.com"
	Name   string // display name shown by authenticators
	Origin string // expected origin, e.g. "https://example.com"
}

// Assertion is the outcome of the cryptographic authentication check.
type Assertion struct {
	Verified   bool
	NewCounter uint32
}

// Attestation is the outcome of the cryptographic registration check.
type Attestation struct {
	Verified             bool
	CredentialID         []byte
	CredentialPublicKey  []byte
	Counter              uint32
	CredentialDeviceType string
	CredentialBackedUp   bool
}

// Verifier performs the raw cryptographic checks. The engine owns all
// surrounding policy (counter persistence, error classification);
// implementations must not perform network I/O.
type Verifier interface {
	VerifyAuthentication(response []byte, expectedChallenge string, authenticator *Authenticator) (*Assertion, error)
	VerifyRegistration(response []byte, expectedChallenge, providerAccountID string) (*Attestation, error)
}

// webauthnVerifier implements Verifier on top of go-webauthn. Both
// ceremonies require user verification: a merely user-present assertion
// is refused.
type webauthnVerifier struct {
	wa *webauthn.WebAuthn
}

// NewVerifier builds the production Verifier for the given relying party.
func NewVerifier(rp RelyingParty) (Verifier, error) {
	name := rp.Name
	if name == "" {
		name = rp.ID
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          rp.ID,
		RPDisplayName: name,
		RPOrigins:     []string{rp.Origin},
	})
	if err != nil {
		return nil, err
	}
	return &webauthnVerifier{wa: wa}, nil
}

// verifierUser adapts a single stored authenticator to webauthn.User. The
// user handle is the providerAccountId established at registration.
type verifierUser struct {
	id    []byte
	creds []webauthn.Credential
}

func (u *verifierUser) WebAuthnID() []byte                         { return u.id }
func (u *verifierUser) WebAuthnName() string                       { return string(u.id) }
func (u *verifierUser) WebAuthnDisplayName() string                { return string(u.id) }
func (u *verifierUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (v *webauthnVerifier) VerifyAuthentication(response []byte, expectedChallenge string, authenticator *Authenticator) (*Assertion, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, err
	}

	var transports []protocol.AuthenticatorTransport
	for _, t := range authenticator.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	user := &verifierUser{
		id: []byte(authenticator.ProviderAccountID),
		creds: []webauthn.Credential{{
			ID:        authenticator.CredentialID,
			PublicKey: authenticator.CredentialPublicKey,
			Transport: transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: authenticator.CredentialDeviceType == DeviceTypeMultiDevice,
				BackupState:    authenticator.CredentialBackedUp,
			},
			Authenticator: webauthn.Authenticator{
				SignCount: authenticator.Counter,
			},
		}},
	}

	session := webauthn.SessionData{
		Challenge:            expectedChallenge,
		UserID:               user.id,
		AllowedCredentialIDs: [][]byte{authenticator.CredentialID},
		UserVerification:     protocol.VerificationRequired,
	}

	cred, err := v.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, err
	}
	if cred.Authenticator.CloneWarning {
		// Counter regression: the assertion is cryptographically valid but
		// claims a counter at or below the stored one, which indicates a
		// cloned credential. Report an unverified result rather than an
		// error so the flow rejects softly.
		return &Assertion{Verified: false}, nil
	}
	return &Assertion{Verified: true, NewCounter: cred.Authenticator.SignCount}, nil
}

func (v *webauthnVerifier) VerifyRegistration(response []byte, expectedChallenge, providerAccountID string) (*Attestation, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, err
	}

	user := &verifierUser{id: []byte(providerAccountID)}
	session := webauthn.SessionData{
		Challenge:        expectedChallenge,
		UserID:           user.id,
		UserVerification: protocol.VerificationRequired,
	}

	cred, err := v.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, err
	}

	deviceType := DeviceTypeSingleDevice
	if cred.Flags.BackupEligible {
		deviceType = DeviceTypeMultiDevice
	}

	return &Attestation{
		Verified:             true,
		CredentialID:         cred.ID,
		CredentialPublicKey:  cred.PublicKey,
		Counter:              cred.Authenticator.SignCount,
		CredentialDeviceType: deviceType,
		CredentialBackedUp:   cred.Flags.BackupState,
	}, nil
}
