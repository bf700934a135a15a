package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/adapter/googledrive"
	"github.com/jun/gophdav/internal/adapter/memory"
	"github.com/jun/gophdav/internal/adapter/rest"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/reconcile"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/time/rate"
)

// CreateBackend builds the file-storage provider selected by cfg.Type and
// wraps it in the call policy (timeout, concurrency cap, rate limit, read retry).
//
// Supported types:
//   - "rest": the file-storage REST API (adapter/rest)
//   - "googledrive": Google Drive shared drives (adapter/googledrive)
//   - "memory": in-process store for development (adapter/memory)
func CreateBackend(ctx context.Context, cfg *BackendConfig, metrics *adapter.Metrics) (adapter.Provider, error) {
	var (
		p   adapter.Provider
		err error
	)
	switch cfg.Type {
	case "rest":
		p, err = createRestBackend(cfg.Rest)
	case "googledrive":
		p, err = createGoogleDriveBackend(cfg.GoogleDrive)
	case "memory":
		p, err = createMemoryBackend(cfg.Memory)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	pol := adapter.Policy{
		Timeout:        cfg.Timeout,
		UploadTimeout:  cfg.UploadTimeout,
		MaxConcurrency: int64(cfg.MaxConcurrency),
		Metrics:        metrics,
	}
	if cfg.RateLimit > 0 {
		pol.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	logger.Info("backend configured", "type", cfg.Type, "timeout", cfg.Timeout,
		"upload_timeout", cfg.UploadTimeout, "max_concurrency", cfg.MaxConcurrency, "rate_limit", cfg.RateLimit)
	return adapter.Guard(p, pol), nil
}

func createRestBackend(options map[string]any) (adapter.Provider, error) {
	var restCfg rest.Config
	if err := decode(options, &restCfg); err != nil {
		return nil, fmt.Errorf("failed to decode rest backend config: %w", err)
	}
	if restCfg.BaseURL == "" {
		return nil, fmt.Errorf("rest backend: base_url is required")
	}
	p, err := rest.NewProvider(restCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("rest backend: %w", err)
	}
	return p, nil
}

func createGoogleDriveBackend(options map[string]any) (adapter.Provider, error) {
	var driveCfg googledrive.Config
	if err := decode(options, &driveCfg); err != nil {
		return nil, fmt.Errorf("failed to decode googledrive backend config: %w", err)
	}
	return googledrive.NewProvider(driveCfg, nil), nil
}

// MemoryBackendConfig is decoded from backend.memory.
type MemoryBackendConfig struct {
	// JWTSecret enables HS256 token checks. Empty accepts any non-empty token.
	JWTSecret      string   `mapstructure:"jwt_secret"`
	Workspaces     []string `mapstructure:"workspaces"`
	AtomicMove     bool     `mapstructure:"atomic_move"`
	MaxContentSize int64    `mapstructure:"max_content_size"`
}

func createMemoryBackend(options map[string]any) (adapter.Provider, error) {
	var memCfg MemoryBackendConfig
	if err := decode(options, &memCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory backend config: %w", err)
	}
	if len(memCfg.Workspaces) == 0 {
		memCfg.Workspaces = []string{"default"}
	}
	opts := memory.Options{AtomicMove: memCfg.AtomicMove, MaxContentSize: memCfg.MaxContentSize}
	if memCfg.JWTSecret != "" {
		opts.Validate = memory.JWTValidator([]byte(memCfg.JWTSecret))
	} else {
		logger.Warn("memory backend accepts any bearer token; set backend.memory.jwt_secret to check them")
	}
	store := memory.NewStore(opts)
	for _, name := range memCfg.Workspaces {
		store.AddWorkspace(name)
	}
	return store, nil
}

type dynamoReconcileConfig struct {
	Table    string        `mapstructure:"table"`
	TTL      time.Duration `mapstructure:"ttl"`
	Region   string        `mapstructure:"region"`
	Endpoint string        `mapstructure:"endpoint"`
}

// CreateRecorder builds the journal for orphaned backend resources.
//
// Supported types:
//   - "log": error log only
//   - "dynamodb": error log plus a DynamoDB table
func CreateRecorder(ctx context.Context, cfg *ReconcileConfig) (reconcile.Recorder, error) {
	switch cfg.Type {
	case "log":
		return reconcile.LogRecorder{}, nil
	case "dynamodb":
		var dynCfg dynamoReconcileConfig
		if err := decode(cfg.DynamoDB, &dynCfg); err != nil {
			return nil, fmt.Errorf("failed to decode reconcile dynamodb config: %w", err)
		}
		if dynCfg.Table == "" {
			return nil, fmt.Errorf("reconcile dynamodb: table is required")
		}
		var loadOpts []func(*awsConfig.LoadOptions) error
		if dynCfg.Region != "" {
			loadOpts = append(loadOpts, awsConfig.WithRegion(dynCfg.Region))
		}
		awsCfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("unable to load SDK config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if dynCfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(dynCfg.Endpoint)
			}
		})
		return reconcile.NewDynamoDBRecorder(client, reconcile.DynamoDBConfig{Table: dynCfg.Table, TTL: dynCfg.TTL}), nil
	default:
		return nil, fmt.Errorf("unknown reconcile type: %q", cfg.Type)
	}
}

// decode maps a per-type options section onto out, accepting duration strings
// and comma-separated lists from environment overrides.
func decode(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}
