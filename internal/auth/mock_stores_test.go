package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"passgate/internal/passkey"
)

// mockUserStore is an in-memory implementation of UserStore for testing.
type mockUserStore struct {
	mu    sync.Mutex
	users map[string]User // keyed by ID
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]User)}
}

func (m *mockUserStore) CreateUser(user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.ID]; exists {
		return fmt.Errorf("user %q already exists", user.ID)
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) GetUser(id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *mockUserStore) GetUserByEmail(email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *mockUserStore) UpdateUser(user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) UserCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

// mockAccountStore is an in-memory implementation of AccountStore for testing.
type mockAccountStore struct {
	mu       sync.Mutex
	accounts map[string]Account // keyed by provider::providerAccountID
	users    *mockUserStore
}

func newMockAccountStore(users *mockUserStore) *mockAccountStore {
	return &mockAccountStore{accounts: make(map[string]Account), users: users}
}

func accountKey(provider, providerAccountID string) string {
	return provider + "::" + providerAccountID
}

func (m *mockAccountStore) LinkAccount(account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accountKey(account.Provider, account.ProviderAccountID)] = account
	return nil
}

func (m *mockAccountStore) GetUserByAccount(provider, providerAccountID string) (*User, error) {
	m.mu.Lock()
	account, ok := m.accounts[accountKey(provider, providerAccountID)]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return m.users.GetUser(account.UserID)
}

func (m *mockAccountStore) ListAccountsForUser(userID string) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	return result, nil
}

// mockSessionStore is an in-memory implementation of SessionStore for testing.
type mockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session // keyed by token
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[string]Session)}
}

func (m *mockSessionStore) CreateSession(session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Token] = session
	return nil
}

func (m *mockSessionStore) GetSession(token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockSessionStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *mockSessionStore) DeleteSessionsForUser(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, k)
		}
	}
	return nil
}

func (m *mockSessionStore) DeleteExpiredSessions() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	count := 0
	for k, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, k)
			count++
		}
	}
	return count, nil
}

// mockTokenStore is an in-memory implementation of VerificationTokenStore.
type mockTokenStore struct {
	mu     sync.Mutex
	tokens map[string]struct {
		email     string
		expiresAt time.Time
	}
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[string]struct {
		email     string
		expiresAt time.Time
	})}
}

func (m *mockTokenStore) SaveVerificationToken(tokenHash, email string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenHash] = struct {
		email     string
		expiresAt time.Time
	}{email, expiresAt}
	return nil
}

func (m *mockTokenStore) ConsumeVerificationToken(tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok {
		return "", nil
	}
	delete(m.tokens, tokenHash)
	if time.Now().After(t.expiresAt) {
		return "", nil
	}
	return t.email, nil
}

func (m *mockTokenStore) DeleteExpiredVerificationTokens() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	count := 0
	for k, t := range m.tokens {
		if now.After(t.expiresAt) {
			delete(m.tokens, k)
			count++
		}
	}
	return count, nil
}

// mockPasskeyStore is an in-memory implementation of PasskeyStore. It
// writes through to the user and account mocks the way the real store
// commits all three records in one transaction.
type mockPasskeyStore struct {
	mu             sync.Mutex
	authenticators map[string][]passkey.Authenticator // keyed by userID
	users          *mockUserStore
	accounts       *mockAccountStore
	createErr      error
}

func newMockPasskeyStore(users *mockUserStore, accounts *mockAccountStore) *mockPasskeyStore {
	return &mockPasskeyStore{
		authenticators: make(map[string][]passkey.Authenticator),
		users:          users,
		accounts:       accounts,
	}
}

func (m *mockPasskeyStore) CreatePasskey(user User, account Account, authenticator passkey.Authenticator) error {
	if m.createErr != nil {
		return m.createErr
	}
	if existing, _ := m.users.GetUser(user.ID); existing == nil {
		if err := m.users.CreateUser(user); err != nil {
			return err
		}
	}
	if err := m.accounts.LinkAccount(account); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticators[user.ID] = append(m.authenticators[user.ID], authenticator)
	return nil
}

func (m *mockPasskeyStore) ListAuthenticatorsForUser(userID string) ([]passkey.Authenticator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticators[userID], nil
}

// mockMailer records sent magic links.
type mockMailer struct {
	mu   sync.Mutex
	sent []struct{ To, URL string }
	err  error
}

func (m *mockMailer) SendMagicLink(_ context.Context, to, url string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, struct{ To, URL string }{to, url})
	return nil
}

func (m *mockMailer) lastSent() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return "", ""
	}
	last := m.sent[len(m.sent)-1]
	return last.To, last.URL
}

// testStores bundles the mock stores behind a Service for flow tests.
type testStores struct {
	users    *mockUserStore
	accounts *mockAccountStore
	sessions *mockSessionStore
	tokens   *mockTokenStore
	passkeys *mockPasskeyStore
	mailer   *mockMailer
}

// newTestService creates a Service with mock stores for testing.
func newTestService() (*Service, *testStores) {
	users := newMockUserStore()
	accounts := newMockAccountStore(users)
	stores := &testStores{
		users:    users,
		accounts: accounts,
		sessions: newMockSessionStore(),
		tokens:   newMockTokenStore(),
		passkeys: newMockPasskeyStore(users, accounts),
		mailer:   &mockMailer{},
	}
	svc := NewService(ServiceConfig{
		Users:         stores.users,
		Accounts:      stores.accounts,
		Sessions:      stores.sessions,
		Tokens:        stores.tokens,
		Passkeys:      stores.passkeys,
		Mailer:        stores.mailer,
		BaseURL:       "https://passgate.test",
		CookieSecure:  false,
		SessionExpiry: 24 * time.Hour,
	})
	return svc, stores
}
