package handler

import (
	"net/http"

	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/resolver"
)

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) error {
	req, err := h.begin(r)
	if err != nil {
		return err
	}
	res, err := resolver.Resolve(r.Context(), req.client, req.path)
	if err != nil {
		return err
	}
	if err := readOnlyTarget(req.path); err != nil {
		return err
	}
	if err := h.writable(req, req.path, true); err != nil {
		return err
	}
	if err := req.client.Delete(r.Context(), res.Identity); err != nil {
		return err
	}
	if n := h.locks.DropTree(req.path); n > 0 {
		logger.Debug("locks dropped with deleted resource", "path", req.path.String(), "count", n)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
