// Package app wires the gateway together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/oauth2"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/auth"
	"github.com/jun/gophdav/internal/config"
	"github.com/jun/gophdav/internal/handler"
	"github.com/jun/gophdav/internal/locks"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/router"
	"github.com/jun/gophdav/internal/secret"
)

// App holds the gateway's long-lived dependencies.
type App struct {
	cfg     *config.Config
	locks   *locks.Manager
	handler http.Handler
}

// Option overrides a dependency New would otherwise build from configuration.
type Option func(*deps)

type deps struct {
	provider adapter.Provider
	secrets  secret.Resolver
	registry *prometheus.Registry
}

// WithProvider replaces the configured backend.
func WithProvider(p adapter.Provider) Option {
	return func(d *deps) { d.provider = p }
}

// WithSecrets replaces the configured secret source.
func WithSecrets(r secret.Resolver) Option {
	return func(d *deps) { d.secrets = r }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *deps) { d.registry = reg }
}

// New builds the gateway. The lock sweeper runs until ctx is done.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var d deps
	for _, o := range opts {
		o(&d)
	}

	var (
		backendMetrics *adapter.Metrics
		lockMetrics    *locks.Metrics
		httpMetrics    *router.Metrics
		gatherer       prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := d.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		}
		backendMetrics = adapter.NewMetrics(reg)
		lockMetrics = locks.NewMetrics(reg)
		httpMetrics = router.NewMetrics(reg)
		gatherer = reg
	}

	if d.secrets == nil {
		r, err := newSecretResolver(ctx, &cfg.Secrets)
		if err != nil {
			return nil, err
		}
		d.secrets = r
	}

	provider := d.provider
	if provider == nil {
		p, err := config.CreateBackend(ctx, &cfg.Backend, backendMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend: %w", err)
		}
		provider = p
	}

	recorder, err := config.CreateRecorder(ctx, &cfg.Reconcile)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile journal: %w", err)
	}

	authenticator, err := newAuthenticator(ctx, &cfg.Auth, d.secrets, cfg.Backend.Timeout)
	if err != nil {
		return nil, err
	}

	originSecret, err := secret.Optional(ctx, d.secrets, cfg.Security.OriginVerifyParam)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve origin secret: %w", err)
	}
	if originSecret == "" {
		logger.Warn("origin verification disabled; set security.origin_verify_param behind an edge proxy")
	}

	lm := locks.NewManager(locks.Options{
		DefaultTimeout: cfg.Locks.DefaultTimeout,
		MaxTimeout:     cfg.Locks.MaxTimeout,
		Metrics:        lockMetrics,
	})
	go lm.Run(ctx, cfg.Locks.SweepInterval)

	dav := handler.New(handler.Options{
		Provider: provider,
		Locks:    lm,
		Recorder: recorder,
		Prefix:   cfg.Server.Prefix,
		MaxDepth: cfg.PropFind.MaxDepth,
		Fanout:   cfg.PropFind.Fanout,
	})

	h := router.New(router.Options{
		DAV:          dav,
		Auth:         authenticator,
		Prefix:       cfg.Server.Prefix,
		OriginSecret: originSecret,
		Metrics:      httpMetrics,
		Gatherer:     gatherer,
		MetricsPath:  cfg.Metrics.Path,
	})

	logger.Info("gateway configured",
		"backend", cfg.Backend.Type,
		"prefix", cfg.Server.Prefix,
		"basic_auth", cfg.Auth.Basic,
		"reconcile", cfg.Reconcile.Type,
		"metrics", cfg.Metrics.Enabled,
	)
	return &App{cfg: cfg, locks: lm, handler: h}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Serve listens on the configured address until ctx is done, then drains
// in-flight requests for up to the shutdown timeout.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Listen, err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", a.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped", "active_locks", a.locks.Len())
	return nil
}

func newSecretResolver(ctx context.Context, cfg *config.SecretsConfig) (secret.Resolver, error) {
	switch cfg.Source {
	case "env":
		return secret.NewCached(secret.NewEnvResolver()), nil
	case "ssm":
		awsCfg, err := awsConfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load SDK config: %w", err)
		}
		return secret.NewCached(secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))), nil
	default:
		return nil, fmt.Errorf("unknown secrets source: %q", cfg.Source)
	}
}

func newAuthenticator(ctx context.Context, cfg *config.AuthConfig, secrets secret.Resolver, timeout time.Duration) (*auth.Authenticator, error) {
	if !cfg.Basic {
		return auth.New(cfg.Realm, nil), nil
	}
	clientSecret, err := secret.Optional(ctx, secrets, cfg.ClientSecretParam)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity client secret: %w", err)
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	exchange := auth.NewPasswordExchange(oc, &http.Client{Timeout: timeout})
	return auth.New(cfg.Realm, exchange), nil
}
