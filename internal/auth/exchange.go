package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrInvalidCredentials is returned when the identity service rejects a user.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrExchangeUnavailable is returned when the identity service cannot be reached.
	ErrExchangeUnavailable = errors.New("identity service unavailable")
)

// expiryMargin is subtracted from token expiry so a cached token is not used
// right before it lapses.
const expiryMargin = 30 * time.Second

// PasswordExchange trades Basic credentials for an access token with the
// OAuth2 password grant. Tokens are cached per credential pair until expiry.
type PasswordExchange struct {
	oauthConfig *oauth2.Config
	client      *http.Client

	tokens map[string]*oauth2.Token
	mu     sync.RWMutex
}

// NewPasswordExchange creates an exchange against cfg.Endpoint.TokenURL.
// A nil client uses http.DefaultClient.
func NewPasswordExchange(cfg *oauth2.Config, client *http.Client) *PasswordExchange {
	return &PasswordExchange{
		oauthConfig: cfg,
		client:      client,
		tokens:      make(map[string]*oauth2.Token),
	}
}

// Token returns an access token for user, exchanging the password when no
// unexpired token is cached.
func (e *PasswordExchange) Token(ctx context.Context, user, password string) (string, error) {
	key := cacheKey(user, password)

	e.mu.RLock()
	tok, ok := e.tokens[key]
	e.mu.RUnlock()
	if ok && fresh(tok) {
		return tok.AccessToken, nil
	}

	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}
	tok, err := e.oauthConfig.PasswordCredentialsToken(ctx, user, password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return "", fmt.Errorf("%w: %s", ErrInvalidCredentials, re.ErrorCode)
		}
		return "", fmt.Errorf("%w: %v", ErrExchangeUnavailable, err)
	}

	e.mu.Lock()
	e.tokens[key] = tok
	e.mu.Unlock()
	return tok.AccessToken, nil
}

// Forget drops every cached token.
func (e *PasswordExchange) Forget() {
	e.mu.Lock()
	e.tokens = make(map[string]*oauth2.Token)
	e.mu.Unlock()
}

func fresh(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(expiryMargin).Before(tok.Expiry)
}

func cacheKey(user, password string) string {
	sum := sha256.Sum256([]byte(user + "\x00" + password))
	return hex.EncodeToString(sum[:])
}
