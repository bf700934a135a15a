package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jun/gophdav/internal/logger"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Policy is the call discipline applied to every backend request.
type Policy struct {
	// Timeout bounds each call. For reads that return a body it bounds the
	// wait for the response, not the streaming of the body. Zero means no
	// per-call deadline.
	Timeout time.Duration

	// UploadTimeout bounds calls that stream a client body to the backend
	// (create, overwrite). Zero means no deadline.
	UploadTimeout time.Duration

	// MaxConcurrency caps simultaneous backend calls across all callers. Zero is unbounded.
	MaxConcurrency int64

	// Limiter throttles call starts. Nil disables throttling.
	Limiter *rate.Limiter

	Metrics *Metrics
}

// Guard wraps p so every Client it hands out follows pol:
//   - reads are retried once after a transient failure; mutations never are
//   - mutations run to completion even if the caller's context is cancelled
//   - each call gets its own deadline and counts against the concurrency cap
func Guard(p Provider, pol Policy) Provider {
	g := &guard{pol: pol}
	if pol.MaxConcurrency > 0 {
		g.sem = semaphore.NewWeighted(pol.MaxConcurrency)
	}
	return ProviderFunc(func(ctx context.Context, token string) (Client, error) {
		c, err := p.ForToken(ctx, token)
		if err != nil {
			return nil, err
		}
		gc := &guardedClient{inner: c, guard: g}
		_, canMove := c.(Mover)
		_, canRange := c.(RangeOpener)
		switch {
		case canMove && canRange:
			return guardedFull{gc}, nil
		case canMove:
			return guardedMover{gc}, nil
		case canRange:
			return guardedRanger{gc}, nil
		}
		return gc, nil
	})
}

type guard struct {
	pol Policy
	sem *semaphore.Weighted
}

// callMode decides how a call's context is bounded.
type callMode int

const (
	// modeUnary bounds the whole call by Timeout.
	modeUnary callMode = iota
	// modeStream bounds the call by Timeout until it returns; the body it
	// returned then streams under the caller's context until closed.
	modeStream
	// modeMutation detaches from the caller and is bounded by Timeout.
	modeMutation
	// modeUpload detaches from the caller and is bounded by UploadTimeout,
	// since it streams the client's request body.
	modeUpload
)

// call runs fn under the policy. The returned cancel releases fn's context;
// for modeStream it must be held until the returned body is closed.
func (g *guard) call(ctx context.Context, op string, mode callMode, fn func(context.Context) error) (context.CancelFunc, error) {
	deadline := g.pol.Timeout
	switch mode {
	case modeMutation:
		ctx = context.WithoutCancel(ctx)
	case modeUpload:
		ctx = context.WithoutCancel(ctx)
		deadline = g.pol.UploadTimeout
	}

	var (
		cancel context.CancelFunc
		timer  *time.Timer
		fired  atomic.Bool
	)
	switch {
	case mode == modeStream:
		ctx, cancel = context.WithCancel(ctx)
		if deadline > 0 {
			timer = time.AfterFunc(deadline, func() {
				fired.Store(true)
				cancel()
			})
		}
	case deadline > 0:
		ctx, cancel = context.WithTimeout(ctx, deadline)
	default:
		cancel = func() {}
	}
	fail := func(err error) error {
		if err != nil && fired.Load() && !errors.Is(err, ErrTimeout) {
			return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
		}
		return g.wrapDeadline(op, err)
	}

	if g.pol.Limiter != nil {
		if err := g.pol.Limiter.Wait(ctx); err != nil {
			cancel()
			return nil, fail(err)
		}
	}
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			cancel()
			return nil, fail(err)
		}
		defer g.sem.Release(1)
	}

	g.pol.Metrics.track(1)
	defer g.pol.Metrics.track(-1)

	start := time.Now()
	err := fn(ctx)
	if timer != nil && !timer.Stop() && err == nil {
		// The deadline hit just as the call returned; its body is already cancelled.
		err = context.Canceled
	}
	err = fail(err)
	g.pol.Metrics.observe(op, err, time.Since(start))
	if err != nil {
		logger.Debug("backend call failed", "op", op, "outcome", Classify(err).String(), "error", err)
		cancel()
		return nil, err
	}
	return cancel, nil
}

func (g *guard) wrapDeadline(op string, err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return err
}

// read runs a side-effect-free call, retrying once after a transient failure.
func (g *guard) read(ctx context.Context, op string, mode callMode, fn func(context.Context) error) (context.CancelFunc, error) {
	cancel, err := g.call(ctx, op, mode, fn)
	if err == nil || !Transient(err) || ctx.Err() != nil {
		return cancel, err
	}
	g.pol.Metrics.retried(op)
	logger.Debug("retrying backend read", "op", op, "error", err)
	return g.call(ctx, op, mode, fn)
}

func (g *guard) mutate(ctx context.Context, op string, mode callMode, fn func(context.Context) error) error {
	cancel, err := g.call(ctx, op, mode, fn)
	if cancel != nil {
		cancel()
	}
	return err
}

func done(cancel context.CancelFunc, err error) error {
	if cancel != nil {
		cancel()
	}
	return err
}

type guardedClient struct {
	inner Client
	guard *guard
}

func (c *guardedClient) Lookup(ctx context.Context, path string) (*Resource, error) {
	var r *Resource
	err := done(c.guard.read(ctx, "lookup", modeUnary, func(ctx context.Context) (err error) {
		r, err = c.inner.Lookup(ctx, path)
		return err
	}))
	return r, err
}

func (c *guardedClient) List(ctx context.Context, id Identity) ([]Resource, error) {
	var rs []Resource
	err := done(c.guard.read(ctx, "list", modeUnary, func(ctx context.Context) (err error) {
		rs, err = c.inner.List(ctx, id)
		return err
	}))
	return rs, err
}

func (c *guardedClient) Open(ctx context.Context, id Identity) (*Content, error) {
	var content *Content
	cancel, err := c.guard.read(ctx, "open", modeStream, func(ctx context.Context) (err error) {
		content, err = c.inner.Open(ctx, id)
		return err
	})
	if err != nil {
		closeContent(content)
		return nil, err
	}
	content.Body = &cancelOnClose{ReadCloser: content.Body, cancel: cancel}
	return content, nil
}

func (c *guardedClient) Create(ctx context.Context, parent Identity, name string, body io.Reader, contentType string) (*Resource, error) {
	var r *Resource
	err := c.guard.mutate(ctx, "create", modeUpload, func(ctx context.Context) (err error) {
		r, err = c.inner.Create(ctx, parent, name, body, contentType)
		return err
	})
	return r, err
}

func (c *guardedClient) Overwrite(ctx context.Context, id Identity, body io.Reader, contentType string) (*Resource, error) {
	var r *Resource
	err := c.guard.mutate(ctx, "overwrite", modeUpload, func(ctx context.Context) (err error) {
		r, err = c.inner.Overwrite(ctx, id, body, contentType)
		return err
	})
	return r, err
}

func (c *guardedClient) CreateCollection(ctx context.Context, parent Identity, name string) (*Resource, error) {
	var r *Resource
	err := c.guard.mutate(ctx, "create_collection", modeMutation, func(ctx context.Context) (err error) {
		r, err = c.inner.CreateCollection(ctx, parent, name)
		return err
	})
	return r, err
}

func (c *guardedClient) Clone(ctx context.Context, parent Identity, sources ...Identity) ([]Resource, error) {
	var rs []Resource
	err := c.guard.mutate(ctx, "clone", modeMutation, func(ctx context.Context) (err error) {
		rs, err = c.inner.Clone(ctx, parent, sources...)
		return err
	})
	return rs, err
}

func (c *guardedClient) Rename(ctx context.Context, id Identity, name string) (*Resource, error) {
	var r *Resource
	err := c.guard.mutate(ctx, "rename", modeMutation, func(ctx context.Context) (err error) {
		r, err = c.inner.Rename(ctx, id, name)
		return err
	})
	return r, err
}

func (c *guardedClient) Delete(ctx context.Context, id Identity) error {
	return c.guard.mutate(ctx, "delete", modeMutation, func(ctx context.Context) error {
		return c.inner.Delete(ctx, id)
	})
}

func (c *guardedClient) move(ctx context.Context, id, parent Identity) (*Resource, error) {
	var r *Resource
	err := c.guard.mutate(ctx, "move", modeMutation, func(ctx context.Context) (err error) {
		r, err = c.inner.(Mover).Move(ctx, id, parent)
		return err
	})
	return r, err
}

func (c *guardedClient) openRange(ctx context.Context, id Identity, offset, length int64) (*Content, error) {
	var content *Content
	cancel, err := c.guard.read(ctx, "open_range", modeStream, func(ctx context.Context) (err error) {
		content, err = c.inner.(RangeOpener).OpenRange(ctx, id, offset, length)
		return err
	})
	if err != nil {
		closeContent(content)
		return nil, err
	}
	content.Body = &cancelOnClose{ReadCloser: content.Body, cancel: cancel}
	return content, nil
}

type guardedMover struct{ *guardedClient }

func (c guardedMover) Move(ctx context.Context, id, parent Identity) (*Resource, error) {
	return c.move(ctx, id, parent)
}

type guardedRanger struct{ *guardedClient }

func (c guardedRanger) OpenRange(ctx context.Context, id Identity, offset, length int64) (*Content, error) {
	return c.openRange(ctx, id, offset, length)
}

type guardedFull struct{ *guardedClient }

func (c guardedFull) Move(ctx context.Context, id, parent Identity) (*Resource, error) {
	return c.move(ctx, id, parent)
}

func (c guardedFull) OpenRange(ctx context.Context, id Identity, offset, length int64) (*Content, error) {
	return c.openRange(ctx, id, offset, length)
}

// closeContent releases a body returned by a call that was then failed.
func closeContent(c *Content) {
	if c != nil && c.Body != nil {
		_ = c.Body.Close()
	}
}

// cancelOnClose keeps the call's context alive while the body streams.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
