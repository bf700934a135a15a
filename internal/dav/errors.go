// Package dav holds the WebDAV wire codec: XML bodies, request headers and the
// mapping from failures to status codes.
package dav

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/locks"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/resolver"
)

// Kind classifies a request failure.
type Kind int

const (
	KindInternal Kind = iota
	KindResolution
	KindParentMissing
	KindMalformed
	KindCrossWorkspace
	KindPrecondition
	KindLocked
	KindUnauthorized
	KindUnavailable
	KindTimeout
	KindPartialFailure
	KindMethodNotAllowed
	KindConflict
	KindForbidden
	KindUnsupportedMediaType
)

var kindNames = map[Kind]string{
	KindInternal:             "internal",
	KindResolution:           "resolution",
	KindParentMissing:        "parent_missing",
	KindMalformed:            "malformed_request",
	KindCrossWorkspace:       "cross_workspace",
	KindPrecondition:         "precondition_failed",
	KindLocked:               "lock_conflict",
	KindUnauthorized:         "unauthorized",
	KindUnavailable:          "backend_unavailable",
	KindTimeout:              "backend_timeout",
	KindPartialFailure:       "partial_failure",
	KindMethodNotAllowed:     "method_not_allowed",
	KindConflict:             "conflict",
	KindForbidden:            "forbidden",
	KindUnsupportedMediaType: "unsupported_media_type",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

var kindStatus = map[Kind]int{
	KindInternal:             http.StatusInternalServerError,
	KindResolution:           http.StatusNotFound,
	KindParentMissing:        http.StatusConflict,
	KindMalformed:            http.StatusBadRequest,
	KindCrossWorkspace:       http.StatusBadRequest,
	KindPrecondition:         http.StatusPreconditionFailed,
	KindLocked:               http.StatusLocked,
	KindUnauthorized:         http.StatusUnauthorized,
	KindUnavailable:          http.StatusBadGateway,
	KindTimeout:              http.StatusGatewayTimeout,
	KindPartialFailure:       http.StatusBadGateway,
	KindMethodNotAllowed:     http.StatusMethodNotAllowed,
	KindConflict:             http.StatusConflict,
	KindForbidden:            http.StatusForbidden,
	KindUnsupportedMediaType: http.StatusUnsupportedMediaType,
}

// Error is a failure with a known Kind. Err carries detail for the log only.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error of kind k.
func Errorf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind k. A nil err stays nil.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Err: err}
}

// ParentError classifies a failure to resolve a destination parent: a missing
// or non-collection parent is a conflict, anything else keeps its own kind.
func ParentError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, adapter.ErrNotFound) || errors.Is(err, resolver.ErrNotCollection) ||
		errors.Is(err, resolver.ErrNoParent) {
		return Wrap(KindParentMissing, err)
	}
	return err
}

// KindOf classifies any error returned while serving a request.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, resolver.ErrMalformedPath):
		return KindMalformed
	case errors.Is(err, resolver.ErrNotCollection):
		return KindParentMissing
	case errors.Is(err, locks.ErrLocked):
		return KindLocked
	}
	switch adapter.Classify(err) {
	case adapter.OutcomeNotFound:
		return KindResolution
	case adapter.OutcomeConflict:
		return KindConflict
	case adapter.OutcomePreconditionFailed:
		return KindPrecondition
	case adapter.OutcomeUnauthorized:
		return KindUnauthorized
	case adapter.OutcomeUnavailable:
		return KindUnavailable
	case adapter.OutcomeTimeout:
		return KindTimeout
	}
	return KindInternal
}

// StatusFor maps err to its HTTP status.
func StatusFor(err error) int {
	return kindStatus[KindOf(err)]
}

// WriteError logs err and writes its status with a generic body.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	status := kindStatus[kind]

	fields := []any{"method", r.Method, "path", r.URL.Path, "kind", kind.String(), "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}

	if kind == KindLocked {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(status)
		_ = writeXML(w, &ErrorBody{Conditions: []Any{{XMLName: lockTokenSubmittedName}}})
		return
	}
	http.Error(w, http.StatusText(status), status)
}
