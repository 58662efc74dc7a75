// Package web binds the authentication flows to HTTP. Handlers stay
// thin: they parse the request, call into auth.Service and translate
// the outcome into cookies, redirects and JSON.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"passgate/internal/auth"
	"passgate/internal/metrics"
	"passgate/internal/pages"
)

// Dependencies defines what the web server needs from the rest of the
// application.
type Dependencies struct {
	Auth     *auth.Service
	Renderer *pages.Renderer
	Theme    pages.Theme
	Log      *slog.Logger

	// Relying party identity echoed in passkey ceremony options.
	RPID          string
	RPDisplayName string
}

// Server is the authentication HTTP server.
type Server struct {
	deps   Dependencies
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a Server with all routes registered.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	authed := func(h http.Handler) http.Handler {
		return auth.Middleware(s.deps.Auth)(h)
	}
	csrf := func(h http.HandlerFunc) http.Handler {
		return auth.CSRFMiddleware(h)
	}

	// Public flow endpoints.
	s.mux.HandleFunc("GET /auth/signin", s.handleSignInPage)
	s.mux.Handle("POST /auth/signin", csrf(s.apiSignIn))
	s.mux.Handle("POST /auth/signup", csrf(s.apiSignUp))
	s.mux.Handle("POST /auth/email", csrf(s.apiEmailStart))
	s.mux.HandleFunc("GET /auth/email/verify", s.handleEmailVerify)
	s.mux.Handle("POST /auth/totp", csrf(s.apiTOTPSignIn))
	s.mux.Handle("POST /auth/oauth/{provider}", csrf(s.apiOAuthStart))
	s.mux.HandleFunc("GET /auth/callback/{provider}", s.handleOAuthCallback)
	s.mux.Handle("POST /auth/passkey/options", csrf(s.apiPasskeyOptions))
	s.mux.Handle("POST /auth/passkey/verify", csrf(s.apiPasskeyVerify))
	s.mux.HandleFunc("POST /auth/signout", s.handleSignOut)
	s.mux.HandleFunc("GET /auth/signout", s.handleSignOut)

	// Session-holder endpoints.
	s.mux.Handle("GET /auth/session", authed(http.HandlerFunc(s.apiSession)))
	s.mux.Handle("GET /auth/passkeys", authed(http.HandlerFunc(s.apiListPasskeys)))
	s.mux.Handle("POST /auth/totp/enroll", authed(csrf(s.apiTOTPEnroll)))
	s.mux.Handle("POST /auth/totp/confirm", authed(csrf(s.apiTOTPConfirm)))
	s.mux.Handle("POST /auth/totp/disable", authed(csrf(s.apiTOTPDisable)))

	// Operational endpoints.
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// observe wraps the mux to record request durations for /auth/ paths.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if p := r.URL.Path; len(p) >= 6 && p[:6] == "/auth/" {
			metrics.RequestDuration.WithLabelValues(r.Pattern).Observe(time.Since(start).Seconds())
		}
	})
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.observe(s.mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("auth server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
