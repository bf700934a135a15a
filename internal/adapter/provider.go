package adapter

import (
	"context"
)

// Provider hands out a Client bound to one caller's bearer token.
type Provider interface {
	// ForToken returns a Client that forwards token on every backend call.
	// The token is not inspected.
	ForToken(ctx context.Context, token string) (Client, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, token string) (Client, error)

func (f ProviderFunc) ForToken(ctx context.Context, token string) (Client, error) {
	return f(ctx, token)
}
