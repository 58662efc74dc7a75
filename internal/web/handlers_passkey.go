package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"passgate/internal/auth"
	"passgate/internal/metrics"
)

// passkeyOptionsRequest selects which ceremony to start.
type passkeyOptionsRequest struct {
	Action string `json:"action"` // "authenticate" (default) or "register"
}

// passkeyVerifyRequest carries the authenticator's response back.
// Response is passed through opaque; the engine parses it.
type passkeyVerifyRequest struct {
	Action   string          `json:"action"`
	Email    string          `json:"email"` // registration only
	Response json.RawMessage `json:"response"`
}

// apiPasskeyOptions starts a passkey ceremony: issues a challenge, binds
// it to the browser via the challenge cookie and returns the options the
// client passes to the WebAuthn API.
func (s *Server) apiPasskeyOptions(w http.ResponseWriter, r *http.Request) {
	var req passkeyOptionsRequest
	if isJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		_ = r.ParseForm()
		req.Action = r.FormValue("action")
	}
	if req.Action == "" {
		req.Action = "authenticate"
	}

	var (
		challenge string
		cookie    *http.Cookie
		err       error
	)
	switch req.Action {
	case "authenticate":
		challenge, cookie, err = s.deps.Auth.BeginPasskeyLogin()
	case "register":
		challenge, cookie, err = s.deps.Auth.BeginPasskeyRegistration()
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		if err == auth.ErrUnknownProvider {
			writeError(w, http.StatusNotFound, "passkeys not configured")
			return
		}
		s.deps.Log.Error("begin passkey ceremony", "action", req.Action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start ceremony")
		return
	}

	metrics.PasskeyCeremonies.WithLabelValues(req.Action, "started").Inc()
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusOK, map[string]any{
		"action":    req.Action,
		"challenge": challenge,
		"rp": map[string]string{
			"id":   s.deps.RPID,
			"name": s.deps.RPDisplayName,
		},
		"userVerification": "required",
	})
}

// apiPasskeyVerify completes a passkey ceremony. The challenge cookie is
// expired on every terminal outcome, success or rejection.
func (s *Server) apiPasskeyVerify(w http.ResponseWriter, r *http.Request) {
	var req passkeyVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		req.Action = "authenticate"
	}

	var (
		result *auth.PasskeyResult
		err    error
	)
	switch req.Action {
	case "authenticate":
		result, err = s.deps.Auth.FinishPasskeyLogin(r.Context(), r.Cookies(), req.Response, clientIP(r), r.UserAgent())
	case "register":
		result, err = s.deps.Auth.FinishPasskeyRegistration(r.Context(), r.Cookies(), req.Response, req.Email, clientIP(r), r.UserAgent())
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		if err == auth.ErrUnknownProvider {
			writeError(w, http.StatusNotFound, "passkeys not configured")
			return
		}
		metrics.PasskeyCeremonies.WithLabelValues(req.Action, "fault").Inc()
		s.deps.Log.Error("finish passkey ceremony", "action", req.Action, "error", err)
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	if result.ClearChallenge != nil {
		http.SetCookie(w, result.ClearChallenge)
	}

	if result.Reason != "" {
		metrics.PasskeyCeremonies.WithLabelValues(req.Action, "rejected").Inc()
		writeError(w, http.StatusBadRequest, result.Reason)
		return
	}

	metrics.PasskeyCeremonies.WithLabelValues(req.Action, "success").Inc()
	auth.SetSessionCookie(w, result.Session.Token, result.Session.ExpiresAt, s.deps.Auth.CookieSecure)
	writeJSON(w, http.StatusOK, map[string]string{"redirect": "/"})
}

// apiListPasskeys returns the signed-in user's registered authenticators.
func (s *Server) apiListPasskeys(w http.ResponseWriter, r *http.Request) {
	rc := auth.GetRequestContext(r.Context())
	if rc == nil || rc.User == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	auths, err := s.deps.Auth.ListPasskeys(rc.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list passkeys")
		return
	}

	type item struct {
		CredentialID string   `json:"credentialId"`
		DeviceType   string   `json:"deviceType"`
		BackedUp     bool     `json:"backedUp"`
		Transports   []string `json:"transports"`
	}
	items := make([]item, 0, len(auths))
	for _, a := range auths {
		items = append(items, item{
			CredentialID: base64.RawURLEncoding.EncodeToString(a.CredentialID),
			DeviceType:   a.CredentialDeviceType,
			BackedUp:     a.CredentialBackedUp,
			Transports:   a.Transports,
		})
	}
	writeJSON(w, http.StatusOK, items)
}
