// Package guard decides whether an authenticated-only location may be entered.
// Decisions are re-evaluated on every call against the current session; nothing
// is cached.
package guard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/anstrom/scanconsole/internal/errors"
)

// LoginPath is the public location unauthenticated callers are sent to.
const LoginPath = "/login"

// Authenticator reports whether a session is present.
type Authenticator interface {
	IsAuthenticated() bool
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
	From     string `json:"from,omitempty"`
}

// Guard protects authenticated-only locations.
type Guard struct {
	auth Authenticator
}

// New creates a guard backed by auth.
func New(auth Authenticator) *Guard {
	return &Guard{auth: auth}
}

// Check evaluates access to location.
func (g *Guard) Check(location string) Decision {
	if g.auth.IsAuthenticated() {
		return Decision{Allowed: true}
	}
	return Decision{
		Allowed:  false,
		Redirect: LoginRedirect(location),
		From:     location,
	}
}

// LoginRedirect builds the login location that remembers where the caller was
// going.
func LoginRedirect(from string) string {
	if from == "" {
		return LoginPath
	}
	return LoginPath + "?from=" + url.QueryEscape(from)
}

// Require is the CLI form of Check. It returns an AUTH_REQUIRED error naming
// the login command when the session is absent.
func (g *Guard) Require(location string) error {
	d := g.Check(location)
	if d.Allowed {
		return nil
	}
	return &errors.AuthError{
		Code:     errors.CodeAuthRequired,
		Message:  fmt.Sprintf("%s Run 'scanconsole login' and retry %s.", errors.MsgAuthRequired, location),
		Location: location,
	}
}

// Views wraps page handlers: unauthenticated requests are redirected to the
// login page with a 303.
func (g *Guard) Views(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Check(r.URL.RequestURI())
		if !d.Allowed {
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type deniedResponse struct {
	Error string `json:"error"`
	Login string `json:"login"`
}

// API wraps JSON handlers: unauthenticated requests get a 401 body naming the
// login location.
func (g *Guard) API(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Check(r.URL.RequestURI())
		if !d.Allowed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(deniedResponse{Error: errors.MsgAuthRequired, Login: d.Redirect})
			return
		}
		next.ServeHTTP(w, r)
	})
}
