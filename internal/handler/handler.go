// Package handler implements the WebDAV verbs on top of the backend client.
//
// Each verb resolves its paths, enforces the lock and workspace rules, and then
// composes backend calls. Failures are returned as errors and written once by
// dav.WriteError.
package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/auth"
	"github.com/jun/gophdav/internal/dav"
	"github.com/jun/gophdav/internal/locks"
	"github.com/jun/gophdav/internal/reconcile"
	"github.com/jun/gophdav/internal/resolver"
)

// Methods lists every verb the gateway answers.
var Methods = []string{
	http.MethodOptions, http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete,
	"MKCOL", "COPY", "MOVE", "PROPFIND", "LOCK", "UNLOCK",
}

// Options configures a Handler.
type Options struct {
	Provider adapter.Provider
	Locks    *locks.Manager
	Recorder reconcile.Recorder

	// Prefix is the URL path the gateway is mounted under, without trailing slash.
	Prefix string

	// MaxDepth bounds PROPFIND Depth: infinity.
	MaxDepth int

	// Fanout bounds concurrent backend calls within one PROPFIND.
	Fanout int

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Handler serves the WebDAV verbs.
type Handler struct {
	provider adapter.Provider
	locks    *locks.Manager
	recorder reconcile.Recorder
	prefix   string
	maxDepth int
	fanout   int
	now      func() time.Time
}

// New creates a Handler. Locks and Provider are required.
func New(opts Options) *Handler {
	if opts.Recorder == nil {
		opts.Recorder = reconcile.LogRecorder{}
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 8
	}
	if opts.Fanout <= 0 {
		opts.Fanout = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		provider: opts.Provider,
		locks:    opts.Locks,
		recorder: opts.Recorder,
		prefix:   strings.TrimSuffix(opts.Prefix, "/"),
		maxDepth: opts.MaxDepth,
		fanout:   opts.Fanout,
		now:      opts.Now,
	}
}

// ServeHTTP dispatches on the request method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.Method {
	case http.MethodOptions:
		h.serveOptions(w, r)
	case http.MethodGet:
		err = h.handleGetHead(w, r, false)
	case http.MethodHead:
		err = h.handleGetHead(w, r, true)
	case http.MethodPut:
		err = h.handlePut(w, r)
	case http.MethodDelete:
		err = h.handleDelete(w, r)
	case "MKCOL":
		err = h.handleMkcol(w, r)
	case "COPY":
		err = h.handleCopyMove(w, r, false)
	case "MOVE":
		err = h.handleCopyMove(w, r, true)
	case "PROPFIND":
		err = h.handlePropfind(w, r)
	case "LOCK":
		err = h.handleLock(w, r)
	case "UNLOCK":
		err = h.handleUnlock(w, r)
	default:
		w.Header().Set("Allow", allow)
		err = dav.Errorf(dav.KindMethodNotAllowed, "method %s", r.Method)
	}
	if err != nil {
		dav.WriteError(w, r, err)
	}
}

// request is the per-request state shared by the verbs.
type request struct {
	client adapter.Client
	path   resolver.Path
	tokens []string
	ifHdr  dav.IfHeader
}

// begin parses the request path and If header and binds a backend client to
// the caller's token.
func (h *Handler) begin(r *http.Request) (*request, error) {
	p, err := h.parsePath(r.URL.EscapedPath())
	if err != nil {
		return nil, err
	}
	ifHdr, err := dav.ParseIf(r.Header)
	if err != nil {
		return nil, err
	}
	token, ok := auth.Token(r.Context())
	if !ok {
		return nil, dav.Wrap(dav.KindUnauthorized, auth.ErrNoCredentials)
	}
	client, err := h.provider.ForToken(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return &request{client: client, path: p, tokens: ifHdr.Tokens(), ifHdr: ifHdr}, nil
}

func (h *Handler) parsePath(escaped string) (resolver.Path, error) {
	if h.prefix != "" {
		rest, ok := strings.CutPrefix(escaped, h.prefix)
		if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
			return resolver.Path{}, dav.Errorf(dav.KindResolution, "path %q outside %s", escaped, h.prefix)
		}
		escaped = rest
	}
	p, err := resolver.ParsePath(escaped)
	if err != nil {
		return resolver.Path{}, dav.Wrap(dav.KindMalformed, err)
	}
	return p, nil
}

// href renders p as an absolute URL path under the prefix.
func (h *Handler) href(p resolver.Path) string {
	return h.prefix + p.Escaped()
}

// hrefFor is href with the collection marker taken from r.
func (h *Handler) hrefFor(p resolver.Path, r *adapter.Resource) string {
	return h.href(withKind(p, r))
}

func withKind(p resolver.Path, r *adapter.Resource) resolver.Path {
	p.Collection = r.IsCollection() || p.IsRoot()
	return p
}

// writable reports whether the request may modify p and, with tree set,
// everything below it.
func (h *Handler) writable(req *request, p resolver.Path, tree bool) error {
	var ok bool
	if tree {
		ok = h.locks.ConfirmTree(p, req.tokens)
	} else {
		ok = h.locks.Confirm(p, req.tokens)
	}
	if !ok {
		return dav.Errorf(dav.KindLocked, "%s is locked", p)
	}
	return nil
}

// readOnlyTarget rejects changes to the virtual root and to workspace roots,
// which the gateway does not create or remove.
func readOnlyTarget(p resolver.Path) error {
	if p.Depth() <= 1 {
		return dav.Errorf(dav.KindForbidden, "%s cannot be modified", p)
	}
	return nil
}

func etag(r *adapter.Resource) string {
	if r.ETag == "" {
		return ""
	}
	return `"` + r.ETag + `"`
}

func setEntityHeaders(w http.ResponseWriter, r *adapter.Resource) {
	if t := etag(r); t != "" {
		w.Header().Set("ETag", t)
	}
	if !r.Modified.IsZero() {
		w.Header().Set("Last-Modified", r.Modified.UTC().Format(http.TimeFormat))
	}
}
