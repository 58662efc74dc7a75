package auth

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestGenerateTOTPSecret(t *testing.T) {
	key, err := GenerateTOTPSecret("a@example.com")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}
	if key == nil {
		t.Fatal("expected non-nil key")
	}
	if key.Secret() == "" {
		t.Error("expected non-empty secret")
	}
	if key.URL() == "" {
		t.Error("expected non-empty URL")
	}
	if key.Issuer() != totpIssuer {
		t.Errorf("issuer = %q, want %q", key.Issuer(), totpIssuer)
	}
	if key.AccountName() != "a@example.com" {
		t.Errorf("account = %q, want %q", key.AccountName(), "a@example.com")
	}
}

func TestValidateTOTPCode(t *testing.T) {
	key, err := GenerateTOTPSecret("a@example.com")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	if !ValidateTOTPCode(key.Secret(), code) {
		t.Error("expected valid code to pass")
	}
	if ValidateTOTPCode(key.Secret(), "000000") && code != "000000" {
		t.Error("expected wrong code to fail")
	}
	if ValidateTOTPCode(key.Secret(), "") {
		t.Error("expected empty code to fail")
	}
}

func TestGenerateRecoveryCodes(t *testing.T) {
	plain, stored, err := GenerateRecoveryCodes()
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}
	if len(plain) != recoveryCodeCount || len(stored) != recoveryCodeCount {
		t.Errorf("len(plain) = %d, len(stored) = %d, want %d", len(plain), len(stored), recoveryCodeCount)
	}

	seen := make(map[string]bool)
	for i, code := range plain {
		if len(code) != recoveryCodeLen {
			t.Errorf("plain[%d] len = %d, want %d", i, len(code), recoveryCodeLen)
		}
		if seen[code] {
			t.Errorf("duplicate recovery code: %s", code)
		}
		seen[code] = true
	}
}

func TestValidateRecoveryCode(t *testing.T) {
	codes := []string{"aabbccdd", "11223344", "deadbeef"}

	if idx := ValidateRecoveryCode("11223344", codes); idx != 1 {
		t.Errorf("match: idx = %d, want 1", idx)
	}
	if idx := ValidateRecoveryCode("notacode", codes); idx != -1 {
		t.Errorf("miss: idx = %d, want -1", idx)
	}
	if idx := ValidateRecoveryCode("", codes); idx != -1 {
		t.Errorf("empty: idx = %d, want -1", idx)
	}
	if idx := ValidateRecoveryCode("aabbccdd", nil); idx != -1 {
		t.Errorf("nil stored: idx = %d, want -1", idx)
	}
}

func TestTOTPEnrollment(t *testing.T) {
	ctx := context.Background()
	svc, stores := newTestService()
	user, err := svc.SignUpWithPassword(ctx, "a@example.com", "Secret99", "")
	if err != nil {
		t.Fatal(err)
	}

	key, err := svc.BeginTOTPEnrollment(ctx, user.ID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}
	stored, _ := stores.users.GetUser(user.ID)
	if stored.TOTPSecret != key.Secret() {
		t.Error("secret not stored")
	}
	if stored.TOTPEnabled {
		t.Error("TOTP enabled before confirmation")
	}

	t.Run("wrong code does not enable", func(t *testing.T) {
		if _, err := svc.ConfirmTOTPEnrollment(ctx, user.ID, "000000"); err != ErrInvalidCredentials {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	recovery, err := svc.ConfirmTOTPEnrollment(ctx, user.ID, code)
	if err != nil {
		t.Fatalf("ConfirmTOTPEnrollment: %v", err)
	}
	if len(recovery) != recoveryCodeCount {
		t.Errorf("got %d recovery codes, want %d", len(recovery), recoveryCodeCount)
	}
	stored, _ = stores.users.GetUser(user.ID)
	if !stored.TOTPEnabled {
		t.Error("TOTP not enabled after confirmation")
	}

	if err := svc.DisableTOTP(ctx, user.ID); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}
	stored, _ = stores.users.GetUser(user.ID)
	if stored.TOTPEnabled || stored.TOTPSecret != "" || stored.RecoveryCodes != nil {
		t.Errorf("TOTP state not cleared: %+v", stored)
	}
}

func TestFinishTOTPSignIn(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *testStores, string, string) {
		t.Helper()
		svc, stores := newTestService()
		user, err := svc.SignUpWithPassword(ctx, "a@example.com", "Secret99", "")
		if err != nil {
			t.Fatal(err)
		}
		key, err := svc.BeginTOTPEnrollment(ctx, user.ID)
		if err != nil {
			t.Fatal(err)
		}
		code, err := totp.GenerateCode(key.Secret(), time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.ConfirmTOTPEnrollment(ctx, user.ID, code); err != nil {
			t.Fatal(err)
		}

		result, err := svc.SignInWithPassword(ctx, "a@example.com", "Secret99", "1.2.3.4", "ua")
		if err != nil {
			t.Fatal(err)
		}
		if result.PendingToken == "" {
			t.Fatal("expected pending token")
		}
		return svc, stores, result.PendingToken, key.Secret()
	}

	t.Run("valid code completes sign-in", func(t *testing.T) {
		svc, _, pending, secret := setup(t)
		code, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		session, err := svc.FinishTOTPSignIn(ctx, pending, code, "1.2.3.4", "ua")
		if err != nil {
			t.Fatalf("FinishTOTPSignIn: %v", err)
		}
		if session == nil || session.Token == "" {
			t.Fatal("expected a session")
		}
	})

	t.Run("pending token is single-use", func(t *testing.T) {
		svc, _, pending, secret := setup(t)
		code, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.FinishTOTPSignIn(ctx, pending, code, "1.2.3.4", "ua"); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.FinishTOTPSignIn(ctx, pending, code, "1.2.3.4", "ua"); err != ErrTOTPNotPending {
			t.Errorf("expected ErrTOTPNotPending on reuse, got %v", err)
		}
	})

	t.Run("wrong code fails and consumes the token", func(t *testing.T) {
		svc, _, pending, _ := setup(t)
		if _, err := svc.FinishTOTPSignIn(ctx, pending, "000000", "1.2.3.4", "ua"); err != ErrInvalidCredentials {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("recovery code works once", func(t *testing.T) {
		svc, stores, pending, _ := setup(t)
		user, _ := stores.users.GetUserByEmail("a@example.com")
		recovery := user.RecoveryCodes[0]

		session, err := svc.FinishTOTPSignIn(ctx, pending, recovery, "1.2.3.4", "ua")
		if err != nil {
			t.Fatalf("FinishTOTPSignIn with recovery code: %v", err)
		}
		if session == nil {
			t.Fatal("expected a session")
		}
		user, _ = stores.users.GetUserByEmail("a@example.com")
		if len(user.RecoveryCodes) != recoveryCodeCount-1 {
			t.Errorf("recovery codes = %d, want %d", len(user.RecoveryCodes), recoveryCodeCount-1)
		}
		if ValidateRecoveryCode(recovery, user.RecoveryCodes) != -1 {
			t.Error("used recovery code still present")
		}
	})

	t.Run("unknown pending token", func(t *testing.T) {
		svc, _ := newTestService()
		if _, err := svc.FinishTOTPSignIn(ctx, "nope", "000000", "1.2.3.4", "ua"); err != ErrTOTPNotPending {
			t.Errorf("expected ErrTOTPNotPending, got %v", err)
		}
	})
}

func TestPendingStore(t *testing.T) {
	ps := NewPendingStore()

	ps.Put("tok", "u1")
	if got := ps.Take("tok"); got != "u1" {
		t.Errorf("Take = %q, want %q", got, "u1")
	}
	if got := ps.Take("tok"); got != "" {
		t.Errorf("second Take = %q, want empty", got)
	}

	// Expired entries are not returned.
	ps.mu.Lock()
	ps.items["old"] = pendingLogin{UserID: "u2", ExpiresAt: time.Now().Add(-time.Second)}
	ps.mu.Unlock()
	if got := ps.Take("old"); got != "" {
		t.Errorf("expired Take = %q, want empty", got)
	}
}
