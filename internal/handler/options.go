package handler

import (
	"net/http"
	"strings"
)

var allow = strings.Join(Methods, ", ")

// serveOptions answers without touching the backend.
func (h *Handler) serveOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("DAV", "1, 2")
	w.Header().Set("Allow", allow)
	w.Header().Set("MS-Author-Via", "DAV")
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}
