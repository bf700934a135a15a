package handler

import (
	"io"
	"net/http"

	"github.com/jun/gophdav/internal/dav"
	"github.com/jun/gophdav/internal/resolver"
)

func (h *Handler) handleMkcol(w http.ResponseWriter, r *http.Request) error {
	req, err := h.begin(r)
	if err != nil {
		return err
	}
	ctx := r.Context()

	if hasBody(r) {
		return dav.Errorf(dav.KindUnsupportedMediaType, "MKCOL with a request body")
	}
	if req.path.IsRoot() {
		return dav.Errorf(dav.KindMethodNotAllowed, "MKCOL on the root")
	}
	if err := readOnlyTarget(req.path); err != nil {
		return err
	}
	parent, err := resolver.ResolveParent(ctx, req.client, req.path)
	if err != nil {
		return dav.ParentError(err)
	}
	existing, err := resolver.Lookup(ctx, req.client, req.path.Parent().Child(req.path.Base(), false))
	if err != nil {
		return err
	}
	if existing != nil {
		return dav.Errorf(dav.KindMethodNotAllowed, "%s already exists", req.path)
	}
	if err := h.writable(req, req.path, false); err != nil {
		return err
	}
	res, err := req.client.CreateCollection(ctx, parent.Identity, req.path.Base())
	if err != nil {
		return err
	}
	setEntityHeaders(w, res)
	w.WriteHeader(http.StatusCreated)
	return nil
}

// hasBody reports whether r carries at least one body byte.
func hasBody(r *http.Request) bool {
	if r.ContentLength > 0 {
		return true
	}
	if r.ContentLength == 0 || r.Body == nil || r.Body == http.NoBody {
		return false
	}
	var b [1]byte
	n, _ := io.ReadFull(r.Body, b[:])
	return n > 0
}
