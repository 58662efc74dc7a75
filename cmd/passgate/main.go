package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"passgate/internal/auth"
	"passgate/internal/config"
	"passgate/internal/events"
	"passgate/internal/logging"
	"passgate/internal/mailer"
	"passgate/internal/metrics"
	"passgate/internal/pages"
	"passgate/internal/passkey"
	"passgate/internal/store"
	"passgate/internal/web"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Passkey engine.
	verifier, err := passkey.NewVerifier(passkey.RelyingParty{
		ID:     cfg.RPID,
		Name:   cfg.RPDisplayName,
		Origin: cfg.Origin(),
	})
	if err != nil {
		log.Error("failed to configure passkey verifier", "error", err)
		os.Exit(1)
	}
	engine := passkey.NewEngine(passkey.Config{
		Adapter:    db.PasskeyAdapter(),
		Verifier:   verifier,
		Challenges: passkey.NewChallengeStore([]byte(cfg.ChallengeSecret), cfg.CookieSecure),
		Log:        log,
	})

	// OAuth providers from the catalog, enabled when credentials exist.
	specs, err := auth.LoadProviderCatalog(cfg.ProviderCatalog)
	if err != nil {
		log.Error("failed to load provider catalog", "error", err)
		os.Exit(1)
	}
	oauthProviders := make(map[string]*auth.OAuthProvider)
	for name, spec := range specs {
		clientID, clientSecret := config.ProviderCredential(name)
		if clientID == "" {
			continue
		}
		redirect := cfg.BaseURL + "/auth/callback/" + name
		oauthProviders[name] = auth.NewOAuthProvider(spec, clientID, clientSecret, redirect)
		log.Info("oauth provider enabled", "provider", name)
	}

	// Optional OIDC provider via discovery.
	var oidcProvider *auth.OIDCProvider
	if issuer := os.Getenv("PASSGATE_OIDC_ISSUER"); issuer != "" {
		name := os.Getenv("PASSGATE_OIDC_NAME")
		if name == "" {
			name = "oidc"
		}
		clientID, clientSecret := config.ProviderCredential(name)
		oidcProvider, err = auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			Enabled:      true,
			Name:         name,
			IssuerURL:    issuer,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  cfg.BaseURL + "/auth/callback/" + name,
		})
		if err != nil {
			log.Error("oidc discovery failed", "issuer", issuer, "error", err)
			os.Exit(1)
		}
		if oidcProvider != nil {
			log.Info("oidc provider enabled", "provider", name, "issuer", issuer)
		}
	}

	// Mail delivery: SMTP when configured, log-only otherwise.
	var sender auth.MagicLinkSender
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTP(mailer.SMTPSettings{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			TLS:      cfg.SMTPTLS,
		})
		log.Info("smtp mailer enabled", "host", cfg.SMTPHost)
	} else {
		sender = mailer.NewLogMailer(log)
		log.Warn("no SMTP host configured, magic links will only be logged")
	}

	bus := events.New()
	svc := auth.NewService(auth.ServiceConfig{
		Users:         db,
		Accounts:      db,
		Sessions:      db,
		Tokens:        db,
		Passkeys:      db,
		Passkey:       engine,
		OIDC:          oidcProvider,
		OAuth:         oauthProviders,
		Mailer:        sender,
		Events:        bus,
		Log:           log,
		BaseURL:       cfg.BaseURL,
		CookieSecure:  cfg.CookieSecure,
		SessionExpiry: cfg.SessionExpiry,
	})

	// Audit log from the event bus.
	auditCh, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range auditCh {
			log.Info("auth event",
				"type", string(ev.Type),
				"user_id", ev.UserID,
				"provider", ev.Provider,
				"message", ev.Message,
			)
		}
	}()

	// Expiry janitor.
	janitor := cron.New()
	_, err = janitor.AddFunc(cfg.CleanupSchedule, func() {
		sessions, tokens := svc.CleanupExpired()
		metrics.CleanupRuns.Inc()
		if count, err := db.SessionCount(); err == nil {
			metrics.ActiveSessions.Set(float64(count))
		}
		if sessions > 0 || tokens > 0 {
			log.Info("expired records pruned", "sessions", sessions, "tokens", tokens)
		}
	})
	if err != nil {
		log.Error("invalid cleanup schedule", "schedule", cfg.CleanupSchedule, "error", err)
		os.Exit(1)
	}
	janitor.Start()
	defer janitor.Stop()

	renderer, err := pages.New()
	if err != nil {
		log.Error("failed to build page renderer", "error", err)
		os.Exit(1)
	}

	srv := web.NewServer(web.Dependencies{
		Auth:     svc,
		Renderer: renderer,
		Theme: pages.Theme{
			BrandColor: os.Getenv("PASSGATE_BRAND_COLOR"),
			Logo:       os.Getenv("PASSGATE_LOGO_URL"),
		},
		Log:           log,
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("passgate started", "version", version, "base_url", cfg.BaseURL)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
