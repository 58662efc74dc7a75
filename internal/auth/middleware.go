package auth

import (
	"context"
	"net/http"
	"strings"

	"passgate/internal/metrics"
)

// Middleware checks the session cookie and places a RequestContext in
// the request context. Unauthenticated browser requests are redirected
// to the sign-in page; unauthenticated API requests get 401.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := GetSessionToken(r); token != "" {
				if rc := svc.ValidateSession(r.Context(), token); rc != nil {
					// Ensure CSRF cookie is set for browser sessions.
					ensureCSRFCookie(w, r, svc.CookieSecure)
					ctx := context.WithValue(r.Context(), ContextKey, rc)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				// Invalid/expired session -- clear the stale cookie.
				ClearSessionCookie(w, svc.CookieSecure)
			}

			if isAPIRequest(r) {
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			} else {
				http.Redirect(w, r, "/auth/signin", http.StatusSeeOther)
			}
		})
	}
}

// CSRFMiddleware validates CSRF tokens on state-changing requests
// (POST/PUT/DELETE/PATCH) using the double-submit cookie pattern.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Safe methods don't need CSRF validation.
		if r.Method == "GET" || r.Method == "HEAD" || r.Method == "OPTIONS" {
			next.ServeHTTP(w, r)
			return
		}

		if !ValidateCSRF(r) {
			metrics.CSRFRejections.Inc()
			if isAPIRequest(r) {
				http.Error(w, `{"error":"CSRF validation failed"}`, http.StatusForbidden)
			} else {
				http.Error(w, "CSRF validation failed", http.StatusForbidden)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetRequestContext extracts the RequestContext from the request context.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ContextKey).(*RequestContext)
	return rc
}

// isAPIRequest checks if the request is an API call (JSON) vs browser navigation.
func isAPIRequest(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// ensureCSRFCookie sets a CSRF cookie if one doesn't already exist.
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, secure bool) {
	if _, err := r.Cookie(CSRFCookieName); err != nil {
		token, err := GenerateCSRFToken()
		if err != nil {
			return
		}
		SetCSRFCookie(w, token, secure)
	}
}
