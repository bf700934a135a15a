package googledrive

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jun/gophdav/internal/adapter"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Config is decoded from backend.googledrive.
type Config struct {
	// DriveIDs limits the exposed shared drives. Empty exposes every drive the caller can see.
	DriveIDs []string `mapstructure:"drive_ids"`

	// Endpoint overrides the Drive API base URL.
	Endpoint string `mapstructure:"endpoint"`
}

// Provider implements adapter.Provider for Google Drive. Each shared drive is a workspace.
type Provider struct {
	cfg  Config
	base http.RoundTripper
}

// NewProvider creates a new Google Drive provider. A nil transport uses http.DefaultTransport.
func NewProvider(cfg Config, transport http.RoundTripper) *Provider {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Provider{cfg: cfg, base: transport}
}

// ForToken returns a DriveAdapter acting with the caller's OAuth2 access token.
func (p *Provider) ForToken(ctx context.Context, token string) (adapter.Client, error) {
	if token == "" {
		return nil, adapter.ErrUnauthorized
	}
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   p.base,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.cfg.Endpoint))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %v", err)
	}
	return newDriveAdapter(srv, p.cfg.DriveIDs), nil
}
