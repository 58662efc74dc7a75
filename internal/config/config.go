package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all passgate configuration from environment variables.
type Config struct {
	// HTTP
	ListenAddr string
	BaseURL    string // external URL used for links and redirects

	// Sessions and tokens
	ChallengeSecret string // HMAC key for challenge cookies, required
	SessionExpiry   time.Duration
	CookieSecure    bool

	// Passkeys
	RPID          string // relying party id, defaults to the BaseURL host
	RPDisplayName string

	// Storage
	DBPath string

	// Provider catalog
	ProviderCatalog string // optional YAML file with extra OAuth providers

	// Mail
	SMTPHost string
	SMTPPort int
	SMTPFrom string
	SMTPUser string
	SMTPPass string
	SMTPTLS  bool

	// Maintenance
	CleanupSchedule string // cron expression for the expiry janitor

	// Logging
	LogFormat string // "text" or "json"
	LogLevel  string
}

// Load reads all configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		ListenAddr:      envStr("PASSGATE_LISTEN_ADDR", ":8080"),
		BaseURL:         envStr("PASSGATE_BASE_URL", "http://localhost:8080"),
		ChallengeSecret: envStr("PASSGATE_CHALLENGE_SECRET", ""),
		SessionExpiry:   envDuration("PASSGATE_SESSION_EXPIRY", 30*24*time.Hour),
		CookieSecure:    envBool("PASSGATE_COOKIE_SECURE", true),
		RPID:            envStr("PASSGATE_RP_ID", ""),
		RPDisplayName:   envStr("PASSGATE_RP_DISPLAY_NAME", "passgate"),
		DBPath:          envStr("PASSGATE_DB_PATH", "/data/passgate.db"),
		ProviderCatalog: envStr("PASSGATE_PROVIDER_CATALOG", ""),
		SMTPHost:        envStr("PASSGATE_SMTP_HOST", ""),
		SMTPPort:        envInt("PASSGATE_SMTP_PORT", 587),
		SMTPFrom:        envStr("PASSGATE_SMTP_FROM", ""),
		SMTPUser:        envStr("PASSGATE_SMTP_USER", ""),
		SMTPPass:        envStr("PASSGATE_SMTP_PASS", ""),
		SMTPTLS:         envBool("PASSGATE_SMTP_TLS", false),
		CleanupSchedule: envStr("PASSGATE_CLEANUP_SCHEDULE", "@every 1h"),
		LogFormat:       envStr("PASSGATE_LOG_FORMAT", "json"),
		LogLevel:        envStr("PASSGATE_LOG_LEVEL", "info"),
	}
	if cfg.RPID == "" {
		if u, err := url.Parse(cfg.BaseURL); err == nil {
			cfg.RPID = u.Hostname()
		}
	}
	return cfg
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.ChallengeSecret == "" {
		errs = append(errs, errors.New("PASSGATE_CHALLENGE_SECRET is required"))
	} else if len(c.ChallengeSecret) < 32 {
		errs = append(errs, fmt.Errorf("PASSGATE_CHALLENGE_SECRET must be at least 32 bytes, got %d", len(c.ChallengeSecret)))
	}
	if c.SessionExpiry <= 0 {
		errs = append(errs, fmt.Errorf("PASSGATE_SESSION_EXPIRY must be > 0, got %s", c.SessionExpiry))
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PASSGATE_BASE_URL must be an absolute URL, got %q", c.BaseURL))
	}
	if c.RPID == "" {
		errs = append(errs, errors.New("PASSGATE_RP_ID could not be derived from PASSGATE_BASE_URL"))
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("PASSGATE_SMTP_PORT must be 1-65535, got %d", c.SMTPPort))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("PASSGATE_LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Origin returns the BaseURL stripped to scheme and host, which is the
// origin browsers report during passkey ceremonies.
func (c *Config) Origin() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

// ProviderCredential reads the OAuth client id and secret for a named
// provider, e.g. PASSGATE_GITHUB_CLIENT_ID / PASSGATE_GITHUB_CLIENT_SECRET.
// Both empty means the provider is not configured.
func ProviderCredential(name string) (id, secret string) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return os.Getenv("PASSGATE_" + key + "_CLIENT_ID"),
		os.Getenv("PASSGATE_" + key + "_CLIENT_SECRET")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
