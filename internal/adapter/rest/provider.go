// Package rest talks to the file-storage REST API.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jun/gophdav/internal/adapter"
	"golang.org/x/oauth2"
)

// Config is decoded from backend.rest.
type Config struct {
	BaseURL  string `mapstructure:"base_url"`
	PageSize int    `mapstructure:"page_size"`
}

// Provider implements adapter.Provider against the REST API.
type Provider struct {
	baseURL  *url.URL
	base     http.RoundTripper
	pageSize int
}

// NewProvider validates cfg. A nil transport uses http.DefaultTransport.
func NewProvider(cfg Config, transport http.RoundTripper) (*Provider, error) {
	u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base_url %q", cfg.BaseURL)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Provider{baseURL: u, base: transport, pageSize: cfg.PageSize}, nil
}

// ForToken returns a Client whose requests carry token as a bearer credential.
func (p *Provider) ForToken(ctx context.Context, token string) (adapter.Client, error) {
	if token == "" {
		return nil, adapter.ErrUnauthorized
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &Client{
		baseURL:  p.baseURL,
		pageSize: p.pageSize,
		http: &http.Client{
			Transport: &oauth2.Transport{Source: src, Base: p.base},
		},
	}, nil
}
