package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jun/gophdav/internal/adapter"
)

var (
	// ErrNotCollection is returned when a parent path names a plain file.
	ErrNotCollection = errors.New("parent is not a collection")

	// ErrNoParent is returned when asking for the parent of the root.
	ErrNoParent = errors.New("root has no parent")
)

// Resolve asks the backend for the resource at p. Nothing is cached, so two
// calls observe backend changes made in between.
func Resolve(ctx context.Context, c adapter.Client, p Path) (*adapter.Resource, error) {
	r, err := c.Lookup(ctx, p.String())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", p, err)
	}
	if p.Collection && !p.IsRoot() && !r.IsCollection() {
		return nil, fmt.Errorf("resolve %s: %w", p, adapter.ErrNotFound)
	}
	return r, nil
}

// ResolveParent resolves the collection that holds p, whose last segment may
// not exist yet.
func ResolveParent(ctx context.Context, c adapter.Client, p Path) (*adapter.Resource, error) {
	if p.IsRoot() {
		return nil, ErrNoParent
	}
	parent := p.Parent()
	r, err := c.Lookup(ctx, parent.String())
	if err != nil {
		return nil, fmt.Errorf("resolve parent %s: %w", parent, err)
	}
	if !r.IsCollection() {
		return nil, fmt.Errorf("resolve parent %s: %w", parent, ErrNotCollection)
	}
	return r, nil
}

// Lookup is Resolve that reports a missing resource as (nil, nil).
func Lookup(ctx context.Context, c adapter.Client, p Path) (*adapter.Resource, error) {
	r, err := Resolve(ctx, c, p)
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, nil
	}
	return r, err
}
