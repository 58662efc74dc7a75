package web

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"passgate/internal/auth"
	"passgate/internal/metrics"
	"passgate/internal/pages"
)

const oauthStateCookie = "passgate_oauth_state"

// clientIP strips the port from RemoteAddr. Rate limiting keys on this.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isJSONRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// displayName capitalizes a provider id for the sign-in button label.
// Well-known brand casings are special-cased.
func displayName(id string) string {
	switch id {
	case "github":
		return "GitHub"
	case "gitlab":
		return "GitLab"
	case "google":
		return "Google"
	}
	if id == "" {
		return id
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// safeCallback restricts redirect targets to same-site paths.
func safeCallback(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/"
	}
	return raw
}

// handleSignInPage renders the sign-in page with the configured providers.
func (s *Server) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	// Already signed in: skip the page.
	if token := auth.GetSessionToken(r); token != "" {
		if rc := s.deps.Auth.ValidateSession(r.Context(), token); rc != nil {
			http.Redirect(w, r, safeCallback(r.URL.Query().Get("callbackUrl")), http.StatusSeeOther)
			return
		}
	}

	csrfToken := ""
	if cookie, err := r.Cookie(auth.CSRFCookieName); err == nil {
		csrfToken = cookie.Value
	} else {
		token, err := auth.GenerateCSRFToken()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate CSRF token")
			return
		}
		auth.SetCSRFCookie(w, token, s.deps.Auth.CookieSecure)
		csrfToken = token
	}

	data := pages.SignInData{
		CSRFToken:   csrfToken,
		CallbackURL: safeCallback(r.URL.Query().Get("callbackUrl")),
		Email:       r.URL.Query().Get("email"),
		ErrorCode:   r.URL.Query().Get("error"),
		Providers:   s.providerList(),
		Theme:       s.deps.Theme,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.deps.Renderer.RenderSignIn(w, data); err != nil {
		s.deps.Log.Error("render signin page", "error", err)
	}
}

// providerList assembles the sign-in options from the service wiring.
func (s *Server) providerList() []pages.Provider {
	var list []pages.Provider
	if s.deps.Auth.Passkey != nil {
		list = append(list, pages.Provider{ID: "webauthn", Name: "Passkey", Type: "webauthn"})
	}
	if s.deps.Auth.OIDC != nil {
		n := s.deps.Auth.OIDC.Name()
		list = append(list, pages.Provider{ID: n, Name: displayName(n), Type: "oidc"})
	}
	names := make([]string, 0, len(s.deps.Auth.OAuth))
	for name := range s.deps.Auth.OAuth {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		list = append(list, pages.Provider{ID: name, Name: displayName(name), Type: "oauth"})
	}
	if s.deps.Auth.Mailer != nil {
		list = append(list, pages.Provider{ID: "email", Name: "Email", Type: "email"})
	}
	list = append(list, pages.Provider{ID: "credentials", Name: "Credentials", Type: "credentials"})
	return list
}

// apiSignIn processes a password sign-in from form or JSON body.
func (s *Server) apiSignIn(w http.ResponseWriter, r *http.Request) {
	var email, password, callback string

	isJSON := isJSONRequest(r)
	if isJSON {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Callback string `json:"callbackUrl"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		email, password, callback = body.Email, body.Password, body.Callback
	} else {
		_ = r.ParseForm()
		email = r.FormValue("email")
		password = r.FormValue("password")
		callback = r.FormValue("callbackUrl")
	}
	callback = safeCallback(callback)

	fail := func(code int, errParam, msg string) {
		metrics.SignInAttempts.WithLabelValues("credentials", "failed").Inc()
		if isJSON {
			writeError(w, code, msg)
		} else {
			http.Redirect(w, r, "/auth/signin?error="+errParam, http.StatusSeeOther)
		}
	}

	if email == "" || password == "" {
		fail(http.StatusBadRequest, "CredentialsSignin", "email and password required")
		return
	}

	result, err := s.deps.Auth.SignInWithPassword(r.Context(), email, password, clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			metrics.RateLimited.Inc()
			fail(http.StatusTooManyRequests, "CredentialsSignin", "too many attempts, try again later")
		case errors.Is(err, auth.ErrAccountLocked):
			fail(http.StatusForbidden, "CredentialsSignin", "account is temporarily locked")
		default:
			fail(http.StatusUnauthorized, "CredentialsSignin", "invalid email or password")
		}
		return
	}

	if result.PendingToken != "" {
		metrics.SignInAttempts.WithLabelValues("credentials", "totp_pending").Inc()
		if isJSON {
			writeJSON(w, http.StatusOK, map[string]any{"totpRequired": true, "pendingToken": result.PendingToken})
		} else {
			http.Redirect(w, r, "/auth/signin?totp="+url.QueryEscape(result.PendingToken), http.StatusSeeOther)
		}
		return
	}

	metrics.SignInAttempts.WithLabelValues("credentials", "success").Inc()
	auth.SetSessionCookie(w, result.Session.Token, result.Session.ExpiresAt, s.deps.Auth.CookieSecure)
	if isJSON {
		writeJSON(w, http.StatusOK, map[string]string{"redirect": callback})
	} else {
		http.Redirect(w, r, callback, http.StatusSeeOther)
	}
}

// apiSignUp registers a user with email and password and signs them in.
func (s *Server) apiSignUp(w http.ResponseWriter, r *http.Request) {
	var email, password, name string
	if isJSONRequest(r) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		email, password, name = body.Email, body.Password, body.Name
	} else {
		_ = r.ParseForm()
		email = r.FormValue("email")
		password = r.FormValue("password")
		name = r.FormValue("name")
	}

	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}

	if _, err := s.deps.Auth.SignUpWithPassword(r.Context(), email, password, name); err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			writeError(w, http.StatusConflict, "an account with that email already exists")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	metrics.SignUps.Inc()

	result, err := s.deps.Auth.SignInWithPassword(r.Context(), email, password, clientIP(r), r.UserAgent())
	if err != nil || result.Session == nil {
		// Account exists but the immediate sign-in failed; let the user retry.
		writeJSON(w, http.StatusCreated, map[string]string{"redirect": "/auth/signin"})
		return
	}
	auth.SetSessionCookie(w, result.Session.Token, result.Session.ExpiresAt, s.deps.Auth.CookieSecure)
	writeJSON(w, http.StatusCreated, map[string]string{"redirect": "/"})
}

// apiEmailStart kicks off the magic-link flow.
func (s *Server) apiEmailStart(w http.ResponseWriter, r *http.Request) {
	var email string
	if isJSONRequest(r) {
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		email = body.Email
	} else {
		_ = r.ParseForm()
		email = r.FormValue("email")
	}
	if email == "" {
		writeError(w, http.StatusBadRequest, "email required")
		return
	}

	if err := s.deps.Auth.StartEmailSignIn(r.Context(), email, clientIP(r)); err != nil {
		if errors.Is(err, auth.ErrRateLimited) {
			metrics.RateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
			return
		}
		s.deps.Log.Error("start email sign-in", "error", err)
		if isJSONRequest(r) {
			writeError(w, http.StatusInternalServerError, "could not send the sign-in email")
		} else {
			http.Redirect(w, r, "/auth/signin?error=EmailSignin", http.StatusSeeOther)
		}
		return
	}
	metrics.MagicLinksSent.Inc()

	if isJSONRequest(r) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	} else {
		http.Redirect(w, r, "/auth/signin?sent=1&email="+url.QueryEscape(email), http.StatusSeeOther)
	}
}

// handleEmailVerify consumes a magic-link token from the emailed URL.
func (s *Server) handleEmailVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Redirect(w, r, "/auth/signin?error=Callback", http.StatusSeeOther)
		return
	}

	session, err := s.deps.Auth.VerifyEmailSignIn(r.Context(), token, clientIP(r), r.UserAgent())
	if err != nil {
		metrics.SignInAttempts.WithLabelValues("email", "failed").Inc()
		http.Redirect(w, r, "/auth/signin?error=Callback", http.StatusSeeOther)
		return
	}

	metrics.SignInAttempts.WithLabelValues("email", "success").Inc()
	auth.SetSessionCookie(w, session.Token, session.ExpiresAt, s.deps.Auth.CookieSecure)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// apiTOTPSignIn completes a password sign-in that required a TOTP code.
func (s *Server) apiTOTPSignIn(w http.ResponseWriter, r *http.Request) {
	var pending, code string
	if isJSONRequest(r) {
		var body struct {
			PendingToken string `json:"pendingToken"`
			Code         string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		pending, code = body.PendingToken, body.Code
	} else {
		_ = r.ParseForm()
		pending = r.FormValue("pending_token")
		code = r.FormValue("code")
	}
	if pending == "" || code == "" {
		writeError(w, http.StatusBadRequest, "pending token and code required")
		return
	}

	session, err := s.deps.Auth.FinishTOTPSignIn(r.Context(), pending, code, clientIP(r), r.UserAgent())
	if err != nil {
		metrics.SignInAttempts.WithLabelValues("credentials", "totp_failed").Inc()
		writeError(w, http.StatusUnauthorized, "invalid or expired code")
		return
	}

	metrics.SignInAttempts.WithLabelValues("credentials", "success").Inc()
	auth.SetSessionCookie(w, session.Token, session.ExpiresAt, s.deps.Auth.CookieSecure)
	writeJSON(w, http.StatusOK, map[string]string{"redirect": "/"})
}

// apiOAuthStart redirects the browser to the provider's consent page.
func (s *Server) apiOAuthStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")

	state, err := auth.GenerateOAuthState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}

	var authURL string
	switch {
	case s.deps.Auth.OIDC != nil && s.deps.Auth.OIDC.Name() == name:
		authURL = s.deps.Auth.OIDC.AuthURL(state)
	default:
		p, ok := s.deps.Auth.OAuth[name]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		authURL = p.AuthURL(state)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/callback",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.deps.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

// handleOAuthCallback finishes the provider flow: state check, code
// exchange, then account sign-in.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")

	fail := func(errParam string) {
		metrics.SignInAttempts.WithLabelValues(name, "failed").Inc()
		http.Redirect(w, r, "/auth/signin?error="+errParam, http.StatusSeeOther)
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		fail("OAuthCallbackError")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name: oauthStateCookie, Value: "", Path: "/auth/callback", MaxAge: -1,
		HttpOnly: true, Secure: s.deps.Auth.CookieSecure, SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		fail("OAuthCallbackError")
		return
	}

	var identity *auth.ProviderIdentity
	accountType := auth.AccountTypeOAuth
	switch {
	case s.deps.Auth.OIDC != nil && s.deps.Auth.OIDC.Name() == name:
		accountType = auth.AccountTypeOIDC
		identity, err = s.deps.Auth.OIDC.Exchange(r.Context(), code)
	default:
		p, ok := s.deps.Auth.OAuth[name]
		if !ok {
			fail("OAuthSignin")
			return
		}
		identity, err = p.Exchange(r.Context(), code)
	}
	if err != nil {
		s.deps.Log.Warn("provider exchange failed", "provider", name, "error", err)
		fail("OAuthCallbackError")
		return
	}

	session, err := s.deps.Auth.SignInWithProvider(r.Context(), name, accountType, identity, clientIP(r), r.UserAgent())
	if err != nil {
		s.deps.Log.Warn("provider sign-in failed", "provider", name, "error", err)
		fail("OAuthCreateAccount")
		return
	}

	metrics.SignInAttempts.WithLabelValues(name, "success").Inc()
	auth.SetSessionCookie(w, session.Token, session.ExpiresAt, s.deps.Auth.CookieSecure)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleSignOut revokes the session and clears the cookie.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := auth.GetSessionToken(r); token != "" {
		if err := s.deps.Auth.SignOut(token); err != nil {
			s.deps.Log.Warn("sign out", "error", err)
		}
	}
	auth.ClearSessionCookie(w, s.deps.Auth.CookieSecure)
	http.Redirect(w, r, "/auth/signin", http.StatusSeeOther)
}

// apiSession reports the signed-in user, mirroring a session endpoint.
func (s *Server) apiSession(w http.ResponseWriter, r *http.Request) {
	rc := auth.GetRequestContext(r.Context())
	if rc == nil || rc.User == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var verified *time.Time
	if rc.User.EmailVerified != nil {
		t := rc.User.EmailVerified.UTC()
		verified = &t
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":            rc.User.ID,
			"email":         rc.User.Email,
			"name":          rc.User.Name,
			"emailVerified": verified,
			"totpEnabled":   rc.User.TOTPEnabled,
		},
		"expires": rc.Session.ExpiresAt.UTC(),
	})
}

// apiTOTPEnroll starts TOTP enrollment for the signed-in user.
func (s *Server) apiTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	rc := auth.GetRequestContext(r.Context())
	if rc == nil || rc.User == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	key, err := s.deps.Auth.BeginTOTPEnrollment(r.Context(), rc.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start enrollment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": key.Secret(), "url": key.URL()})
}

// apiTOTPConfirm verifies the first code and enables TOTP.
func (s *Server) apiTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	rc := auth.GetRequestContext(r.Context())
	if rc == nil || rc.User == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	_ = r.ParseForm()
	code := r.FormValue("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code required")
		return
	}

	recovery, err := s.deps.Auth.ConfirmTOTPEnrollment(r.Context(), rc.User.ID, code)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recoveryCodes": recovery})
}

// apiTOTPDisable turns TOTP off for the signed-in user.
func (s *Server) apiTOTPDisable(w http.ResponseWriter, r *http.Request) {
	rc := auth.GetRequestContext(r.Context())
	if rc == nil || rc.User == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := s.deps.Auth.DisableTOTP(r.Context(), rc.User.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to disable TOTP")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
