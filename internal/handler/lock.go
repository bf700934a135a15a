package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/dav"
	"github.com/jun/gophdav/internal/locks"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/resolver"
)

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) error {
	req, err := h.begin(r)
	if err != nil {
		return err
	}
	ctx := r.Context()

	li, err := dav.ReadLockInfo(r.Body)
	if err != nil {
		return err
	}
	timeout, err := dav.ParseTimeout(r.Header)
	if err != nil {
		return err
	}
	if req.path.IsRoot() {
		return dav.Errorf(dav.KindForbidden, "the root cannot be locked")
	}
	if li == nil {
		return h.refreshLock(w, r, req, timeout)
	}

	depth, err := dav.ParseDepth(r.Header, dav.DepthInfinity)
	if err != nil {
		return err
	}
	if depth == dav.DepthOne {
		return dav.Errorf(dav.KindMalformed, "LOCK with Depth 1")
	}

	res, err := resolver.Lookup(ctx, req.client, req.path)
	if err != nil {
		return err
	}
	created := false
	if res == nil {
		if res, err = h.createLockNull(ctx, req); err != nil {
			return err
		}
		created = true
	}

	lockDepth := locks.DepthInfinity
	if depth == dav.DepthZero {
		lockDepth = locks.DepthZero
	}
	l, err := h.locks.Acquire(locks.Request{
		Resource: res.Identity,
		Root:     withKind(req.path, res),
		Owner:    li.OwnerXML(),
		Scope:    li.Scope(),
		Depth:    lockDepth,
		Timeout:  timeout,
	})
	if err != nil {
		if created {
			h.discardLockNull(ctx, req, res)
		}
		return err
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return dav.WriteLockResponse(w, code, l, h.now(), h.lockRoot(l))
}

// refreshLock extends the lock named in the If header.
func (h *Handler) refreshLock(w http.ResponseWriter, r *http.Request, req *request, timeout time.Duration) error {
	if len(req.tokens) == 0 {
		return dav.Errorf(dav.KindMalformed, "lock refresh without a lock token")
	}
	res, err := resolver.Resolve(r.Context(), req.client, req.path)
	if err != nil {
		return err
	}
	p := withKind(req.path, res)
	for _, token := range req.tokens {
		l, err := h.locks.Refresh(token, res.Identity, p, timeout)
		if errors.Is(err, locks.ErrNoSuchLock) {
			continue
		}
		if err != nil {
			return err
		}
		return dav.WriteLockResponse(w, http.StatusOK, l, h.now(), h.lockRoot(l))
	}
	return dav.Errorf(dav.KindPrecondition, "no lock on %s matches the submitted tokens", p)
}

// createLockNull creates the empty file a LOCK on an unmapped path stands for.
func (h *Handler) createLockNull(ctx context.Context, req *request) (*adapter.Resource, error) {
	if req.path.Collection {
		return nil, dav.Errorf(dav.KindResolution, "%s not found", req.path)
	}
	if err := readOnlyTarget(req.path); err != nil {
		return nil, err
	}
	parent, err := resolver.ResolveParent(ctx, req.client, req.path)
	if err != nil {
		return nil, dav.ParentError(err)
	}
	if err := h.writable(req, req.path, false); err != nil {
		return nil, err
	}
	res, err := req.client.Create(ctx, parent.Identity, req.path.Base(), bytes.NewReader(nil), "application/octet-stream")
	if err != nil {
		return nil, err
	}
	logger.Debug("empty resource created for lock", "path", req.path.String(), "file_id", res.FileID)
	return res, nil
}

// discardLockNull removes a file created for a LOCK that was then refused.
func (h *Handler) discardLockNull(ctx context.Context, req *request, res *adapter.Resource) {
	if err := req.client.Delete(context.WithoutCancel(ctx), res.Identity); err != nil {
		logger.Warn("failed to remove resource created for refused lock",
			"path", req.path.String(), "file_id", res.FileID, "error", err)
	}
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) error {
	req, err := h.begin(r)
	if err != nil {
		return err
	}
	token, err := dav.ParseLockToken(r.Header)
	if err != nil {
		return err
	}
	res, err := resolver.Resolve(r.Context(), req.client, req.path)
	if err != nil {
		return err
	}
	if err := h.locks.Release(token, res.Identity, withKind(req.path, res)); err != nil {
		if errors.Is(err, locks.ErrNoSuchLock) {
			return dav.Wrap(dav.KindConflict, err)
		}
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// lockRoot renders the URL of the resource l was taken on.
func (h *Handler) lockRoot(l locks.Lock) string {
	return h.href(l.Root)
}
