package passkey

import "context"

// Account types and provider defaults.
const (
	AccountTypeWebAuthn = "webauthn"
	DefaultProvider     = "passkey"
)

// Credential device types, matching the WebAuthn backup-eligibility
// semantics: a multi-device credential can be synced across devices.
const (
	DeviceTypeSingleDevice = "singleDevice"
	DeviceTypeMultiDevice  = "multiDevice"
)

// Authenticator is a registered passkey credential: public key, signature
// counter and metadata, bound to exactly one account. Created once at
// registration; only the counter mutates afterwards, and only through
// Adapter.UpdateAuthenticatorCounter.
type Authenticator struct {
	CredentialID         []byte   `json:"credential_id"`
	ProviderAccountID    string   `json:"provider_account_id"`
	CredentialPublicKey  []byte   `json:"credential_public_key"`
	Counter              uint32   `json:"counter"`
	CredentialDeviceType string   `json:"credential_device_type"`
	CredentialBackedUp   bool     `json:"credential_backed_up"`
	Transports           []string `json:"transports,omitempty"`
}

// Account links a user to a provider identity. For passkeys the type is
// always "webauthn". Immutable after creation.
type Account struct {
	UserID            string `json:"user_id"`
	Type              string `json:"type"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
}

// User is the owner record resolved through the adapter. The engine treats
// it as opaque beyond these two fields.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Adapter is the persistence contract the engine consumes but does not
// implement. Lookups report absence as (nil, nil); errors are reserved for
// storage failures.
//
// UpdateAuthenticatorCounter must be linearizable with respect to
// concurrent authentication attempts against the same credential ID. The
// engine issues a single unconditional write, so detecting concurrent
// counter races is the storage layer's burden.
type Adapter interface {
	GetAuthenticator(ctx context.Context, credentialID []byte) (*Authenticator, error)
	UpdateAuthenticatorCounter(ctx context.Context, authenticator *Authenticator, newCounter uint32) error
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error)
}

// AuthenticationSuccess is the payload of a verified authentication.
type AuthenticationSuccess struct {
	Account *Account
	User    *User
}

// RegistrationSuccess is the payload of a verified registration. Nothing
// has been persisted yet: the caller owns the create transaction for all
// three records.
type RegistrationSuccess struct {
	Authenticator *Authenticator
	Account       *Account
	User          *User
}
