// Package pages renders the built-in sign-in page. Rendering is pure:
// everything the template needs arrives in the data struct, nothing is
// read from ambient state.
package pages

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
)

// signinErrors maps the error query parameter to a user-facing message.
// Unknown codes fall back to the default entry.
var signinErrors = map[string]string{
	"default":              "Unable to sign in.",
	"signin":               "Try signing in with a different account.",
	"oauthsignin":          "Try signing in with a different account.",
	"oauthcallbackerror":   "Try signing in with a different account.",
	"oauthcreateaccount":   "Try signing in with a different account.",
	"emailcreateaccount":   "Try signing in with a different account.",
	"callback":             "Try signing in with a different account.",
	"oauthaccountnotlinked": "To confirm your identity, sign in with the same account you used originally.",
	"emailsignin":          "The e-mail could not be sent.",
	"credentialssignin":    "Sign in failed. Check the details you provided are correct.",
	"sessionrequired":      "Please sign in to access this page.",
}

// ErrorMessage resolves an error code from the query string to its
// display text.
func ErrorMessage(code string) string {
	if code == "" {
		return ""
	}
	if msg, ok := signinErrors[strings.ToLower(code)]; ok {
		return msg
	}
	return signinErrors["default"]
}

// Theme controls the page appearance.
type Theme struct {
	BrandColor string // hex color applied to buttons and accents
	ButtonText string // hex color for button text
	Logo       string // optional logo URL
}

// Provider is one sign-in option shown on the page.
type Provider struct {
	ID   string // e.g. "github"
	Name string // e.g. "GitHub"
	Type string // "oauth", "oidc", "email", "credentials" or "webauthn"
}

// SignInData carries everything the sign-in template needs.
type SignInData struct {
	CSRFToken   string
	CallbackURL string
	Email       string // prefill for the email field
	ErrorCode   string // raw error query parameter
	Providers   []Provider
	Theme       Theme
}

// Renderer holds the parsed sign-in template.
type Renderer struct {
	tmpl *template.Template
}

// New parses the built-in template. Failure is a programming error.
func New() (*Renderer, error) {
	tmpl, err := template.New("signin").Funcs(template.FuncMap{
		"errorMessage": ErrorMessage,
	}).Parse(signinTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse signin template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// RenderSignIn writes the sign-in page for the given data.
func (r *Renderer) RenderSignIn(w io.Writer, data SignInData) error {
	// The error box background derives from the brand color. Computed
	// here because rgba() values don't survive the CSS value filter.
	view := struct {
		SignInData
		ErrorBG template.CSS
	}{data, template.CSS("#fde8e8")}
	if bg, ok := HexToRGBA(data.Theme.BrandColor, 0.15); ok {
		view.ErrorBG = template.CSS(bg)
	}
	return r.tmpl.Execute(w, view)
}

// HexToRGBA converts a 3- or 6-digit hex color to a CSS rgba() string.
// Alpha is clamped to [0, 1]. Returns false for unparseable input.
func HexToRGBA(hex string, alpha float64) (string, bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return "", false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return "", false
	}
	if alpha < 0 {
		alpha = 0
	} else if alpha > 1 {
		alpha = 1
	}
	r := (v >> 16) & 255
	g := (v >> 8) & 255
	b := v & 255
	return fmt.Sprintf("rgba(%d, %d, %d, %g)", r, g, b, alpha), true
}

const signinTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign In</title>
<style>
:root {
{{- if .Theme.BrandColor}}
  --brand-color: {{.Theme.BrandColor}};
{{- end}}
{{- if .Theme.ButtonText}}
  --button-text-color: {{.Theme.ButtonText}};
{{- end}}
}
body { font-family: system-ui, sans-serif; background: #f3f4f6; display: flex; justify-content: center; padding-top: 8vh; }
.card { background: #fff; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.15); padding: 2rem; width: 20rem; }
.card .logo { display: block; max-height: 4rem; margin: 0 auto 1rem; }
.error { background: {{.ErrorBG}}; border-radius: 4px; padding: .5rem .75rem; margin-bottom: 1rem; }
button { width: 100%; padding: .6rem; border: 0; border-radius: 4px; background: var(--brand-color, #346df1); color: var(--button-text-color, #fff); cursor: pointer; margin-top: .5rem; }
input { width: 100%; box-sizing: border-box; padding: .5rem; margin-top: .25rem; border: 1px solid #d1d5db; border-radius: 4px; }
hr { margin: 1.25rem 0; border: 0; border-top: 1px solid #e5e7eb; }
label { font-size: .85rem; color: #374151; }
</style>
</head>
<body>
<div class="card">
{{- if .Theme.Logo}}
<img class="logo" src="{{.Theme.Logo}}" alt="Logo">
{{- end}}
{{- with errorMessage .ErrorCode}}
<div class="error"><p>{{.}}</p></div>
{{- end}}
{{- range .Providers}}
{{- if or (eq .Type "oauth") (eq .Type "oidc")}}
<form action="/auth/oauth/{{.ID}}" method="POST">
<input type="hidden" name="csrf_token" value="{{$.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{$.CallbackURL}}">
<button type="submit">Sign in with {{.Name}}</button>
</form>
{{- end}}
{{- if eq .Type "webauthn"}}
<form action="/auth/passkey/options" method="POST" id="passkey-form">
<input type="hidden" name="csrf_token" value="{{$.CSRFToken}}">
<button type="submit">Sign in with a passkey</button>
</form>
{{- end}}
{{- if eq .Type "email"}}
<hr>
<form action="/auth/email" method="POST">
<input type="hidden" name="csrf_token" value="{{$.CSRFToken}}">
<label for="email">Email</label>
<input id="email" name="email" type="email" value="{{$.Email}}" placeholder="you@example.com" required>
<button type="submit">Sign in with Email</button>
</form>
{{- end}}
{{- if eq .Type "credentials"}}
<hr>
<form action="/auth/signin" method="POST">
<input type="hidden" name="csrf_token" value="{{$.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{$.CallbackURL}}">
<label for="cred-email">Email</label>
<input id="cred-email" name="email" type="email" value="{{$.Email}}" required>
<label for="cred-password">Password</label>
<input id="cred-password" name="password" type="password" required>
<button type="submit">Sign in</button>
</form>
{{- end}}
{{- end}}
</div>
</body>
</html>
`
