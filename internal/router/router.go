// Package router mounts the WebDAV handler behind the gateway's middleware.
package router

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jun/gophdav/internal/auth"
	"github.com/jun/gophdav/internal/logger"
)

// OriginHeader carries the shared secret set by the edge proxy.
const OriginHeader = "X-Origin-Verify"

// HealthPath answers liveness checks without authentication.
const HealthPath = "/healthz"

// davMethods are the verbs chi does not know about out of the box.
var davMethods = []string{"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK"}

func init() {
	for _, m := range davMethods {
		chi.RegisterMethod(m)
	}
}

// Options configures the router.
type Options struct {
	// DAV serves every request under Prefix.
	DAV http.Handler

	// Auth puts the caller's token on the request context.
	Auth *auth.Authenticator

	// Prefix is the mount point of DAV, e.g. "/dav". Empty mounts at "/".
	Prefix string

	// OriginSecret, when set, must match the X-Origin-Verify header.
	OriginSecret string

	// Metrics records per-request metrics. Nil disables them.
	Metrics *Metrics

	// Gatherer is served at MetricsPath. Nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	MetricsPath string
}

// New creates the HTTP handler for the gateway.
//
// The middleware stack is:
//   - request id
//   - real IP extraction
//   - request logging with the internal logger
//   - panic recovery
//   - request metrics (when enabled)
//
// Routes:
//   - GET /healthz
//   - GET <metrics path> (when enabled)
//   - every WebDAV verb under the prefix
func New(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.instrument)
	}

	r.Get(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if opts.Gatherer != nil && opts.MetricsPath != "" {
		r.Method(http.MethodGet, opts.MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	dav := davHandler(opts.DAV, opts.Auth)
	prefix := strings.TrimSuffix(opts.Prefix, "/")
	r.Group(func(r chi.Router) {
		r.Use(verifyOrigin(opts.OriginSecret))
		if prefix == "" {
			r.Handle("/", dav)
		} else {
			r.Handle(prefix, dav)
		}
		r.Handle(prefix+"/*", dav)
	})
	return r
}

// davHandler authenticates every verb except OPTIONS, which clients send
// before they have credentials.
func davHandler(dav http.Handler, a *auth.Authenticator) http.Handler {
	authed := a.Middleware(dav)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			dav.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
}

// verifyOrigin rejects requests that did not come through the edge proxy.
func verifyOrigin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(OriginHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				logger.Warn("request blocked: invalid origin header",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		// Probes would drown everything else.
		if r.URL.Path == HealthPath {
			logger.Debug("request completed", logArgs...)
		} else {
			logger.Info("request completed", logArgs...)
		}
	})
}
