package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrPreconditionFailed is returned when the backend rejects a conditional request.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConflict is returned when the backend refuses a mutation because of the
	// current state, e.g. a sibling with the same name.
	ErrConflict = errors.New("resource conflict")

	// ErrUnauthorized is returned when the backend rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable is returned on connection failures and backend 5xx answers.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrTimeout is returned when a backend call exceeds its deadline.
	ErrTimeout = errors.New("backend timeout")
)

// Outcome is the closed set of results a backend call can have.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeConflict
	OutcomePreconditionFailed
	OutcomeUnauthorized
	OutcomeUnavailable
	OutcomeTimeout
	OutcomeServerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeConflict:
		return "conflict"
	case OutcomePreconditionFailed:
		return "precondition_failed"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "server_error"
	}
}

// Classify maps an error returned by a Client onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrPreconditionFailed):
		return OutcomePreconditionFailed
	case errors.Is(err, ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return OutcomeTimeout
		}
		return OutcomeUnavailable
	}
	return OutcomeServerError
}

// Transient reports whether a read may be retried after err.
func Transient(err error) bool {
	o := Classify(err)
	return o == OutcomeUnavailable || o == OutcomeTimeout
}

// StatusError carries the backend HTTP status behind a sentinel.
type StatusError struct {
	Op     string
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend status %d: %v", e.Op, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// FromStatus maps an HTTP status from a backend onto a sentinel-wrapping error.
// It returns nil for 2xx.
func FromStatus(op string, status int) error {
	var base error
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		base = ErrUnauthorized
	case status == 404 || status == 410:
		base = ErrNotFound
	case status == 409:
		base = ErrConflict
	case status == 412:
		base = ErrPreconditionFailed
	case status == 408 || status == 504:
		base = ErrTimeout
	case status >= 500:
		base = ErrUnavailable
	default:
		base = fmt.Errorf("unexpected status")
	}
	return &StatusError{Op: op, Status: status, Err: base}
}
