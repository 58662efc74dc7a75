package passkey

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
)

// mockAdapter is an in-memory Adapter that records every mutating call.
type mockAdapter struct {
	mu             sync.Mutex
	authenticators map[string]*Authenticator // keyed by string(credentialID)
	users          map[string]*User          // keyed by provider + "::" + providerAccountID
	getCalls       int
	updateCalls    []uint32 // newCounter values, in order
	getErr         error
	updateErr      error
	userErr        error
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		authenticators: make(map[string]*Authenticator),
		users:          make(map[string]*User),
	}
}

func (m *mockAdapter) addAuthenticator(a Authenticator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticators[string(a.CredentialID)] = &a
}

func (m *mockAdapter) addUser(provider, providerAccountID string, u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[provider+"::"+providerAccountID] = &u
}

func (m *mockAdapter) GetAuthenticator(_ context.Context, credentialID []byte) (*Authenticator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	a, ok := m.authenticators[string(credentialID)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *mockAdapter) UpdateAuthenticatorCounter(_ context.Context, authenticator *Authenticator, newCounter uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	a, ok := m.authenticators[string(authenticator.CredentialID)]
	if !ok {
		return fmt.Errorf("authenticator %q not found", authenticator.CredentialID)
	}
	a.Counter = newCounter
	m.updateCalls = append(m.updateCalls, newCounter)
	return nil
}

func (m *mockAdapter) GetUserByAccount(_ context.Context, provider, providerAccountID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userErr != nil {
		return nil, m.userErr
	}
	u, ok := m.users[provider+"::"+providerAccountID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockAdapter) counter(credentialID []byte) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authenticators[string(credentialID)]
	if !ok {
		return 0
	}
	return a.Counter
}

// fakeVerifier stands in for the cryptographic primitive. When
// counterAware is set it behaves like a real verifier with respect to the
// signature counter: an assertion claiming a counter at or below the
// stored one reads as unverified.
type fakeVerifier struct {
	assertion    *Assertion
	attestation  *Attestation
	err          error
	counterAware bool
	authCalls    int
	regCalls     int
	lastChal     string
}

func (f *fakeVerifier) VerifyAuthentication(_ []byte, expectedChallenge string, authenticator *Authenticator) (*Assertion, error) {
	f.authCalls++
	f.lastChal = expectedChallenge
	if f.err != nil {
		return nil, f.err
	}
	if f.counterAware && authenticator.Counter >= f.assertion.NewCounter {
		return &Assertion{Verified: false}, nil
	}
	cp := *f.assertion
	return &cp, nil
}

func (f *fakeVerifier) VerifyRegistration(_ []byte, expectedChallenge, _ string) (*Attestation, error) {
	f.regCalls++
	f.lastChal = expectedChallenge
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.attestation
	return &cp, nil
}

var _ Adapter = (*mockAdapter)(nil)
var _ Verifier = (*fakeVerifier)(nil)

var (
	errTestCrypto  = fmt.Errorf("signature mismatch")
	errTestStorage = fmt.Errorf("bucket write refused")
)

// credentialIDJSON renders a response payload for raw credential ID bytes.
func credentialIDJSON(credentialID []byte) []byte {
	id := base64.RawURLEncoding.EncodeToString(credentialID)
	return []byte(`{"id":"` + id + `"}`)
}
