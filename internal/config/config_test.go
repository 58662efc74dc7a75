package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Unset all passgate env vars to get defaults.
	for _, k := range []string{
		"PASSGATE_LISTEN_ADDR", "PASSGATE_BASE_URL", "PASSGATE_CHALLENGE_SECRET",
		"PASSGATE_SESSION_EXPIRY", "PASSGATE_COOKIE_SECURE", "PASSGATE_RP_ID",
		"PASSGATE_RP_DISPLAY_NAME", "PASSGATE_DB_PATH", "PASSGATE_PROVIDER_CATALOG",
		"PASSGATE_SMTP_HOST", "PASSGATE_SMTP_PORT", "PASSGATE_CLEANUP_SCHEDULE",
		"PASSGATE_LOG_FORMAT", "PASSGATE_LOG_LEVEL",
	} {
		os.Unsetenv(k)
	}

	cfg := Load()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want http://localhost:8080", cfg.BaseURL)
	}
	if cfg.SessionExpiry != 30*24*time.Hour {
		t.Errorf("SessionExpiry = %s, want 720h", cfg.SessionExpiry)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure = false, want true")
	}
	if cfg.RPID != "localhost" {
		t.Errorf("RPID = %q, want localhost (derived from BaseURL)", cfg.RPID)
	}
	if cfg.DBPath != "/data/passgate.db" {
		t.Errorf("DBPath = %q, want /data/passgate.db", cfg.DBPath)
	}
	if cfg.CleanupSchedule != "@every 1h" {
		t.Errorf("CleanupSchedule = %q, want @every 1h", cfg.CleanupSchedule)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PASSGATE_BASE_URL", "https://auth.example.com")
	t.Setenv("PASSGATE_SESSION_EXPIRY", "24h")
	t.Setenv("PASSGATE_COOKIE_SECURE", "false")
	t.Setenv("PASSGATE_RP_ID", "")

	cfg := Load()
	if cfg.BaseURL != "https://auth.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.SessionExpiry != 24*time.Hour {
		t.Errorf("SessionExpiry = %s, want 24h", cfg.SessionExpiry)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure = true, want false")
	}
	if cfg.RPID != "auth.example.com" {
		t.Errorf("RPID = %q, want auth.example.com", cfg.RPID)
	}
}

func TestValidate(t *testing.T) {
	secret := strings.Repeat("s", 32)
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(_ *Config) {}, false},
		{"missing secret", func(c *Config) { c.ChallengeSecret = "" }, true},
		{"short secret", func(c *Config) { c.ChallengeSecret = "short" }, true},
		{"zero expiry", func(c *Config) { c.SessionExpiry = 0 }, true},
		{"relative base url", func(c *Config) { c.BaseURL = "auth.example.com" }, true},
		{"bad smtp port", func(c *Config) { c.SMTPPort = 0 }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "yaml" }, true},
		{"text log format valid", func(c *Config) { c.LogFormat = "text" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				BaseURL:         "https://auth.example.com",
				ChallengeSecret: secret,
				SessionExpiry:   24 * time.Hour,
				RPID:            "auth.example.com",
				SMTPPort:        587,
				LogFormat:       "json",
			}
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestOrigin(t *testing.T) {
	cfg := &Config{BaseURL: "https://auth.example.com/app"}
	if got := cfg.Origin(); got != "https://auth.example.com" {
		t.Errorf("Origin() = %q, want https://auth.example.com", got)
	}
}

func TestProviderCredential(t *testing.T) {
	t.Setenv("PASSGATE_GITHUB_CLIENT_ID", "id123")
	t.Setenv("PASSGATE_GITHUB_CLIENT_SECRET", "sec456")

	id, secret := ProviderCredential("github")
	if id != "id123" || secret != "sec456" {
		t.Errorf("got (%q, %q)", id, secret)
	}

	id, secret = ProviderCredential("nonexistent")
	if id != "" || secret != "" {
		t.Errorf("unconfigured provider should return empty, got (%q, %q)", id, secret)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PG_TEST_STR", "custom")
	if got := envStr("PG_TEST_STR", "default"); got != "custom" {
		t.Errorf("envStr = %q", got)
	}
	if got := envStr("PG_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("envStr = %q", got)
	}

	t.Setenv("PG_TEST_INT", "42")
	if got := envInt("PG_TEST_INT", 0); got != 42 {
		t.Errorf("envInt = %d", got)
	}
	t.Setenv("PG_TEST_INT", "notanumber")
	if got := envInt("PG_TEST_INT", 99); got != 99 {
		t.Errorf("envInt = %d, want 99 (default on parse failure)", got)
	}

	t.Setenv("PG_TEST_BOOL", "true")
	if !envBool("PG_TEST_BOOL", false) {
		t.Error("envBool = false, want true")
	}
	t.Setenv("PG_TEST_BOOL", "banana")
	if !envBool("PG_TEST_BOOL", true) {
		t.Error("envBool = false, want default true on parse failure")
	}

	t.Setenv("PG_TEST_DUR", "90s")
	if got := envDuration("PG_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("envDuration = %s", got)
	}
}
