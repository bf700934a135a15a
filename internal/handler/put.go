package handler

import (
	"bufio"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/dav"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/resolver"
)

// sniffLen is how much of a PUT body is inspected when the client sends no
// useful Content-Type.
const sniffLen = 3072

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) error {
	req, err := h.begin(r)
	if err != nil {
		return err
	}
	ctx := r.Context()

	if req.path.Collection {
		return dav.Errorf(dav.KindMethodNotAllowed, "PUT on collection path %s", req.path)
	}
	if err := readOnlyTarget(req.path); err != nil {
		return err
	}
	parent, err := resolver.ResolveParent(ctx, req.client, req.path)
	if err != nil {
		return dav.ParentError(err)
	}
	existing, err := resolver.Lookup(ctx, req.client, req.path)
	if err != nil {
		return err
	}
	if existing != nil && existing.IsCollection() {
		return dav.Errorf(dav.KindMethodNotAllowed, "PUT on collection %s", req.path)
	}
	if err := h.writable(req, req.path, false); err != nil {
		return err
	}

	body, ctype := sniff(r)

	var (
		res    *adapter.Resource
		status int
	)
	if existing != nil {
		res, err = req.client.Overwrite(ctx, existing.Identity, body, ctype)
		status = http.StatusNoContent
	} else {
		res, err = req.client.Create(ctx, parent.Identity, req.path.Base(), body, ctype)
		status = http.StatusCreated
	}
	if err != nil {
		return err
	}

	logger.Debug("content stored", "path", req.path.String(), "file_id", res.FileID,
		"size", res.Size, "content_type", ctype, "created", existing == nil)
	setEntityHeaders(w, res)
	w.WriteHeader(status)
	return nil
}

// sniff returns the request body and its content type. A missing or generic
// Content-Type is replaced by one detected from the leading bytes.
func sniff(r *http.Request) (io.Reader, string) {
	declared := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return r.Body, declared
	}
	br := bufio.NewReaderSize(r.Body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return br, "application/octet-stream"
	}
	if len(head) == 0 {
		return br, "application/octet-stream"
	}
	return br, mimetype.Detect(head).String()
}
