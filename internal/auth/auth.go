// Package auth extracts the caller's bearer credential and puts it on the
// request context. The credential is never validated here; the backend does that.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jun/gophdav/internal/logger"
)

// CookieName is the browser session cookie set by the identity service.
const CookieName = "session_token"

// ErrNoCredentials is returned when a request carries no usable credential.
var ErrNoCredentials = errors.New("no authorization token found")

type contextKey struct{}

// WithToken returns ctx carrying token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

// Token returns the bearer token stored by Middleware.
func Token(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(contextKey{}).(string)
	return t, ok && t != ""
}

// Authenticator turns request credentials into a bearer token.
type Authenticator struct {
	realm    string
	exchange *PasswordExchange
}

// New returns an Authenticator. A nil exchange disables Basic credentials.
func New(realm string, exchange *PasswordExchange) *Authenticator {
	return &Authenticator{realm: realm, exchange: exchange}
}

// Middleware stores the caller's token on the context, or answers 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := a.Extract(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrExchangeUnavailable) {
				status = http.StatusBadGateway
			}
			logger.Debug("request not authenticated", "method", r.Method, "path", r.URL.Path, "error", err)
			a.Challenge(w)
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
	})
}

// Challenge sets WWW-Authenticate when Basic credentials are accepted.
func (a *Authenticator) Challenge(w http.ResponseWriter) {
	if a.exchange != nil {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", a.realm))
	}
}

// Extract finds the token in, by preference, the Authorization header
// (Bearer, or Basic when enabled) and the session cookie.
func (a *Authenticator) Extract(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	scheme, value, _ := strings.Cut(authHeader, " ")
	value = strings.TrimSpace(value)

	switch {
	case strings.EqualFold(scheme, "Bearer") && value != "":
		return value, nil
	case strings.EqualFold(scheme, "Basic") && a.exchange != nil:
		user, pass, ok := r.BasicAuth()
		if !ok || user == "" {
			return "", fmt.Errorf("%w: malformed basic credentials", ErrNoCredentials)
		}
		return a.exchange.Token(r.Context(), user, pass)
	}

	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", ErrNoCredentials
}
