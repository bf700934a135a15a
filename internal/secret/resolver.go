// Package secret resolves the gateway's secret parameters (the edge origin
// secret, the identity service client secret) from SSM Parameter Store or the
// environment.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when a parameter does not exist or has no value.
var ErrNotFound = errors.New("secret not found")

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches secrets from AWS Systems Manager Parameter Store.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a SecureString parameter with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: ssm parameter %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: ssm parameter %q has no value", ErrNotFound, name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver reads secrets from environment variables named after the last
// segment of the parameter: "/gophdav/origin-verify" is ORIGIN_VERIFY.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver returns a Resolver over the process environment.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := EnvName(name)
	val, ok := r.lookup(envName)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: environment variable %q (from %q) is not set", ErrNotFound, envName, name)
	}
	return val, nil
}

// EnvName converts a parameter name to its environment variable.
//
//	"/gophdav/origin-verify"       -> "ORIGIN_VERIFY"
//	"/gophdav/idp-client-secret"   -> "IDP_CLIENT_SECRET"
func EnvName(name string) string {
	last := name[strings.LastIndex(name, "/")+1:]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// Cached remembers resolved values for the life of the process. Concurrent
// lookups of one name share a single backend call; failures are not cached.
type Cached struct {
	next   Resolver
	group  singleflight.Group
	mu     sync.RWMutex
	values map[string]string
}

// NewCached wraps next with a process-lifetime cache.
func NewCached(next Resolver) *Cached {
	return &Cached{next: next, values: make(map[string]string)}
}

func (c *Cached) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	v, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	res, err, _ := c.group.Do(name, func() (any, error) {
		v, err := c.next.GetSecret(ctx, name)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.values[name] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Optional resolves name, treating an empty name as "not configured".
func Optional(ctx context.Context, r Resolver, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	return r.GetSecret(ctx, name)
}
