package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"passgate/internal/auth"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser(id, email string) auth.User {
	now := time.Now().UTC()
	return auth.User{ID: id, Email: email, CreatedAt: now, UpdatedAt: now}
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)

	if err := s.CreateUser(testUser("u1", "a@example.com")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.GetUser("u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got == nil || got.Email != "a@example.com" {
		t.Errorf("GetUser = %+v", got)
	}

	byEmail, err := s.GetUserByEmail("a@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail == nil || byEmail.ID != "u1" {
		t.Errorf("GetUserByEmail = %+v", byEmail)
	}
}

func TestUserAbsent(t *testing.T) {
	s := testStore(t)

	got, err := s.GetUser("missing")
	if err != nil || got != nil {
		t.Errorf("GetUser(missing) = %+v, %v; want nil, nil", got, err)
	}
	byEmail, err := s.GetUserByEmail("missing@example.com")
	if err != nil || byEmail != nil {
		t.Errorf("GetUserByEmail(missing) = %+v, %v; want nil, nil", byEmail, err)
	}
}

func TestUserDuplicateEmail(t *testing.T) {
	s := testStore(t)

	if err := s.CreateUser(testUser("u1", "a@example.com")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(testUser("u2", "a@example.com")); err == nil {
		t.Error("expected duplicate email to be rejected")
	}
}

func TestUpdateUserRotatesEmailIndex(t *testing.T) {
	s := testStore(t)

	user := testUser("u1", "old@example.com")
	if err := s.CreateUser(user); err != nil {
		t.Fatal(err)
	}
	user.Email = "new@example.com"
	if err := s.UpdateUser(user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	if got, _ := s.GetUserByEmail("old@example.com"); got != nil {
		t.Error("old email still resolves")
	}
	got, err := s.GetUserByEmail("new@example.com")
	if err != nil || got == nil || got.ID != "u1" {
		t.Errorf("new email lookup = %+v, %v", got, err)
	}
}

func TestUserCount(t *testing.T) {
	s := testStore(t)

	if n, _ := s.UserCount(); n != 0 {
		t.Errorf("UserCount = %d, want 0", n)
	}
	if err := s.CreateUser(testUser("u1", "a@example.com")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(testUser("u2", "b@example.com")); err != nil {
		t.Fatal(err)
	}
	// Index keys must not be counted.
	if n, _ := s.UserCount(); n != 2 {
		t.Errorf("UserCount = %d, want 2", n)
	}
}

func TestAccountLinkAndResolve(t *testing.T) {
	s := testStore(t)

	if err := s.CreateUser(testUser("u1", "a@example.com")); err != nil {
		t.Fatal(err)
	}
	account := auth.Account{
		UserID:            "u1",
		Type:              auth.AccountTypeOAuth,
		Provider:          "github",
		ProviderAccountID: "ext-1",
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.LinkAccount(account); err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}

	user, err := s.GetUserByAccount("github", "ext-1")
	if err != nil {
		t.Fatalf("GetUserByAccount: %v", err)
	}
	if user == nil || user.ID != "u1" {
		t.Errorf("GetUserByAccount = %+v", user)
	}

	if user, err := s.GetUserByAccount("github", "nope"); err != nil || user != nil {
		t.Errorf("unknown account = %+v, %v; want nil, nil", user, err)
	}

	accounts, err := s.ListAccountsForUser("u1")
	if err != nil {
		t.Fatalf("ListAccountsForUser: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ProviderAccountID != "ext-1" {
		t.Errorf("ListAccountsForUser = %+v", accounts)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := testStore(t)

	session := auth.Session{
		Token:     "tok-1",
		UserID:    "u1",
		Provider:  "credentials",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := s.CreateSession(session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession("tok-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.UserID != "u1" {
		t.Errorf("GetSession = %+v", got)
	}

	if err := s.DeleteSession("tok-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if got, _ := s.GetSession("tok-1"); got != nil {
		t.Error("session still present after delete")
	}
	// Idempotent.
	if err := s.DeleteSession("tok-1"); err != nil {
		t.Errorf("second DeleteSession: %v", err)
	}
}

func TestDeleteSessionsForUser(t *testing.T) {
	s := testStore(t)

	for _, tok := range []string{"a", "b"} {
		if err := s.CreateSession(auth.Session{Token: tok, UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CreateSession(auth.Session{Token: "c", UserID: "u2", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSessionsForUser("u1"); err != nil {
		t.Fatalf("DeleteSessionsForUser: %v", err)
	}
	for _, tok := range []string{"a", "b"} {
		if got, _ := s.GetSession(tok); got != nil {
			t.Errorf("session %q survived", tok)
		}
	}
	if got, _ := s.GetSession("c"); got == nil {
		t.Error("other user's session was deleted")
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	s := testStore(t)

	now := time.Now().UTC()
	if err := s.CreateSession(auth.Session{Token: "live", UserID: "u1", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSession(auth.Session{Token: "dead", UserID: "u1", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteExpiredSessions()
	if err != nil {
		t.Fatalf("DeleteExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
	if got, _ := s.GetSession("live"); got == nil {
		t.Error("live session deleted")
	}
	if got, _ := s.GetSession("dead"); got != nil {
		t.Error("expired session survived")
	}
}

func TestVerificationTokens(t *testing.T) {
	s := testStore(t)

	t.Run("consume is single-use", func(t *testing.T) {
		if err := s.SaveVerificationToken("hash-1", "a@example.com", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("SaveVerificationToken: %v", err)
		}
		email, err := s.ConsumeVerificationToken("hash-1")
		if err != nil {
			t.Fatalf("ConsumeVerificationToken: %v", err)
		}
		if email != "a@example.com" {
			t.Errorf("email = %q", email)
		}
		email, err = s.ConsumeVerificationToken("hash-1")
		if err != nil || email != "" {
			t.Errorf("second consume = %q, %v; want empty, nil", email, err)
		}
	})

	t.Run("expired token yields empty", func(t *testing.T) {
		if err := s.SaveVerificationToken("hash-2", "a@example.com", time.Now().Add(-time.Minute)); err != nil {
			t.Fatal(err)
		}
		email, err := s.ConsumeVerificationToken("hash-2")
		if err != nil || email != "" {
			t.Errorf("expired consume = %q, %v; want empty, nil", email, err)
		}
	})

	t.Run("cleanup deletes only expired", func(t *testing.T) {
		if err := s.SaveVerificationToken("hash-3", "a@example.com", time.Now().Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		if err := s.SaveVerificationToken("hash-4", "b@example.com", time.Now().Add(-time.Minute)); err != nil {
			t.Fatal(err)
		}
		n, err := s.DeleteExpiredVerificationTokens()
		if err != nil {
			t.Fatalf("DeleteExpiredVerificationTokens: %v", err)
		}
		if n != 1 {
			t.Errorf("deleted %d tokens, want 1", n)
		}
		if email, _ := s.ConsumeVerificationToken("hash-3"); email != "a@example.com" {
			t.Errorf("live token gone, got %q", email)
		}
	})
}

func TestSessionCount(t *testing.T) {
	s := testStore(t)

	if n, err := s.SessionCount(); err != nil || n != 0 {
		t.Fatalf("SessionCount = %d, %v, want 0", n, err)
	}

	for i := 0; i < 3; i++ {
		session := auth.Session{
			Token:     fmt.Sprintf("count-tok-%d", i),
			UserID:    "u1",
			CreatedAt: time.Now().UTC(),
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		if err := s.CreateSession(session); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	// Index keys must not inflate the count.
	if n, err := s.SessionCount(); err != nil || n != 3 {
		t.Errorf("SessionCount = %d, %v, want 3", n, err)
	}
}
