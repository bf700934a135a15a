package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/dav"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/reconcile"
	"github.com/jun/gophdav/internal/resolver"
)

// Step names, as journaled and logged.
const (
	stepDeleteDestination = "delete-destination"
	stepClone             = "clone"
	stepCreateCollection  = "create-collection"
	stepRename            = "rename"
	stepMove              = "move"
	stepDeleteSource      = "delete-source"
)

// transfer is the state a COPY or MOVE carries from step to step.
type transfer struct {
	op     string
	client adapter.Client

	src       *adapter.Resource
	srcPath   resolver.Path
	dstParent *adapter.Resource
	dstPath   resolver.Path
	dst       *adapter.Resource // existing destination, if any
	shallow   bool              // COPY Depth 0 of a collection

	// result is the resource now at the destination.
	result *adapter.Resource
}

// transferStep is one backend action of a COPY or MOVE.
type transferStep struct {
	name string
	run  func(ctx context.Context, t *transfer) error
}

// stepError tags a failure with the step that produced it.
type stepError struct {
	Step string
	Err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *stepError) Unwrap() error { return e.Err }

// runSteps executes steps in order and stops at the first failure. Once the
// overwritten destination is gone, any later failure is a partial failure and
// the deleted destination is journaled.
func (h *Handler) runSteps(ctx context.Context, t *transfer, steps []transferStep) error {
	destinationGone := false
	for _, s := range steps {
		if err := s.run(ctx, t); err != nil {
			serr := &stepError{Step: s.name, Err: err}
			if !destinationGone {
				return serr
			}
			h.journal(ctx, t, stepDeleteDestination, t.dst,
				fmt.Sprintf("destination deleted for overwrite, then %s failed: %v", s.name, err))
			if dav.KindOf(err) == dav.KindPartialFailure {
				return serr
			}
			return dav.Wrap(dav.KindPartialFailure, serr)
		}
		if s.name == stepDeleteDestination {
			destinationGone = true
		}
		logger.Debug("transfer step done", "op", t.op, "step", s.name,
			"source", t.srcPath.String(), "destination", t.dstPath.String())
	}
	return nil
}

func (h *Handler) handleCopyMove(w http.ResponseWriter, r *http.Request, move bool) error {
	req, err := h.begin(r)
	if err != nil {
		return err
	}
	ctx := r.Context()
	op := "COPY"
	if move {
		op = "MOVE"
	}

	dstPath, err := dav.ParseDestination(r, h.prefix)
	if err != nil {
		return err
	}
	overwrite, err := dav.ParseOverwrite(r.Header)
	if err != nil {
		return err
	}
	depth, err := dav.ParseDepth(r.Header, dav.DepthInfinity)
	if err != nil {
		return err
	}

	src, err := resolver.Resolve(ctx, req.client, req.path)
	if err != nil {
		return err
	}
	if err := readOnlyTarget(req.path); err != nil {
		return err
	}
	if dstPath.Equal(req.path) {
		return dav.Errorf(dav.KindForbidden, "%s onto itself", op)
	}
	if src.IsCollection() && dstPath.HasPrefix(req.path) {
		return dav.Errorf(dav.KindForbidden, "%s %s into its own subtree", op, req.path)
	}
	switch {
	case depth == dav.DepthOne:
		return dav.Errorf(dav.KindMalformed, "%s with Depth 1", op)
	case move && src.IsCollection() && depth != dav.DepthInfinity:
		return dav.Errorf(dav.KindMalformed, "MOVE of a collection requires Depth infinity")
	}

	dstParent, err := resolver.ResolveParent(ctx, req.client, dstPath)
	if err != nil {
		return dav.ParentError(err)
	}
	if src.WorkspaceID != dstParent.WorkspaceID {
		return dav.Errorf(dav.KindCrossWorkspace, "%s from workspace %q to %q", op, src.WorkspaceID, dstParent.WorkspaceID)
	}
	dst, err := resolver.Lookup(ctx, req.client, dstPath.Parent().Child(dstPath.Base(), false))
	if err != nil {
		return err
	}
	if dst != nil && !overwrite {
		return dav.Errorf(dav.KindPrecondition, "destination %s exists", dstPath)
	}
	if dst != nil && req.path.HasPrefix(dstPath) {
		return dav.Errorf(dav.KindForbidden, "%s over an ancestor of the source", op)
	}

	if move {
		if err := h.writable(req, req.path, true); err != nil {
			return err
		}
	}
	if err := h.writable(req, dstPath, dst != nil); err != nil {
		return err
	}

	t := &transfer{
		op:        op,
		client:    req.client,
		src:       src,
		srcPath:   req.path,
		dstParent: dstParent,
		dstPath:   withKind(dstPath, src),
		dst:       dst,
		shallow:   !move && src.IsCollection() && depth == dav.DepthZero,
	}
	var steps []transferStep
	if move {
		steps = h.planMove(t)
	} else {
		steps = h.planCopy(t)
	}
	if err := h.runSteps(ctx, t, steps); err != nil {
		return err
	}

	if dst != nil {
		h.locks.DropTree(dstPath)
	}
	if move {
		h.locks.DropTree(req.path)
	}
	logger.Info("transfer complete", "op", op, "source", req.path.String(),
		"destination", dstPath.String(), "file_id", t.result.FileID, "overwrote", dst != nil)

	w.Header().Set("Location", h.href(t.dstPath))
	if dst != nil {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}

func (h *Handler) planCopy(t *transfer) []transferStep {
	var steps []transferStep
	if t.dst != nil {
		steps = append(steps, transferStep{stepDeleteDestination, deleteDestination})
	}
	if t.shallow {
		return append(steps, transferStep{stepCreateCollection, createCollection})
	}
	return append(steps,
		transferStep{stepClone, h.cloneSource},
		transferStep{stepRename, h.renameResult},
	)
}

func (h *Handler) planMove(t *transfer) []transferStep {
	var steps []transferStep
	if t.dst != nil {
		steps = append(steps, transferStep{stepDeleteDestination, deleteDestination})
	}
	if t.src.ParentID == t.dstParent.FileID {
		return append(steps, transferStep{stepRename, renameSource})
	}
	if _, ok := t.client.(adapter.Mover); ok {
		return append(steps,
			transferStep{stepMove, moveSource},
			transferStep{stepRename, h.renameResult},
		)
	}
	return append(steps,
		transferStep{stepClone, h.cloneSource},
		transferStep{stepRename, h.renameResult},
		transferStep{stepDeleteSource, h.deleteSource},
	)
}

func deleteDestination(ctx context.Context, t *transfer) error {
	return t.client.Delete(ctx, t.dst.Identity)
}

func createCollection(ctx context.Context, t *transfer) error {
	res, err := t.client.CreateCollection(ctx, t.dstParent.Identity, t.dstPath.Base())
	if err != nil {
		return err
	}
	t.result = res
	return nil
}

// cloneSource copies the source under the destination parent. The backend
// must answer with exactly one clone; anything else is removed and journaled.
func (h *Handler) cloneSource(ctx context.Context, t *transfer) error {
	clones, err := t.client.Clone(ctx, t.dstParent.Identity, t.src.Identity)
	if err != nil {
		return err
	}
	if len(clones) == 1 {
		t.result = &clones[0]
		return nil
	}

	reason := fmt.Sprintf("backend returned %d clones for one source", len(clones))
	for i := range clones {
		c := &clones[i]
		cleanup := "deleted"
		if err := t.client.Delete(ctx, c.Identity); err != nil {
			cleanup = "delete failed: " + err.Error()
		}
		h.journal(ctx, t, stepClone, c, reason+"; "+cleanup)
	}
	return dav.Errorf(dav.KindPartialFailure, "%s", reason)
}

// renameResult gives the new resource the destination name. When that fails
// the new resource is removed, or journaled if removal fails too.
func (h *Handler) renameResult(ctx context.Context, t *transfer) error {
	if t.result.Name == t.dstPath.Base() {
		return nil
	}
	renamed, err := t.client.Rename(ctx, t.result.Identity, t.dstPath.Base())
	if err == nil {
		t.result = renamed
		return nil
	}
	if t.op == "MOVE" && t.result.Identity == t.src.Identity {
		// An atomic move already happened; the resource is intact under its old name.
		h.journal(ctx, t, stepRename, t.result, "moved but not renamed: "+err.Error())
		return dav.Wrap(dav.KindPartialFailure, err)
	}
	if derr := t.client.Delete(ctx, t.result.Identity); derr != nil {
		h.journal(ctx, t, stepRename, t.result, fmt.Sprintf("rename failed: %v; cleanup delete failed: %v", err, derr))
		return dav.Wrap(dav.KindPartialFailure, errors.Join(err, derr))
	}
	logger.Warn("clone removed after failed rename", "op", t.op,
		"destination", t.dstPath.String(), "file_id", t.result.FileID, "error", err)
	return err
}

func renameSource(ctx context.Context, t *transfer) error {
	res, err := t.client.Rename(ctx, t.src.Identity, t.dstPath.Base())
	if err != nil {
		return err
	}
	t.result = res
	return nil
}

func moveSource(ctx context.Context, t *transfer) error {
	res, err := t.client.(adapter.Mover).Move(ctx, t.src.Identity, t.dstParent.Identity)
	if err != nil {
		return err
	}
	t.result = res
	return nil
}

// deleteSource completes a copy-based MOVE. If the source survives, the copy
// at the destination is a duplicate and is journaled.
func (h *Handler) deleteSource(ctx context.Context, t *transfer) error {
	err := t.client.Delete(ctx, t.src.Identity)
	if err == nil {
		return nil
	}
	h.journal(ctx, t, stepDeleteSource, t.result, "source not deleted: "+err.Error())
	return dav.Wrap(dav.KindPartialFailure, err)
}

func (h *Handler) journal(ctx context.Context, t *transfer, step string, res *adapter.Resource, reason string) {
	o := reconcile.Orphan{
		Resource:    res.Identity,
		Name:        res.Name,
		Operation:   t.op,
		Step:        step,
		Source:      t.srcPath.String(),
		Destination: t.dstPath.String(),
		Reason:      reason,
	}
	if err := h.recorder.Record(context.WithoutCancel(ctx), o); err != nil {
		logger.Error("failed to journal orphaned resource", "file_id", res.FileID, "error", err)
	}
}
