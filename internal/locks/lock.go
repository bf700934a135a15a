// Package locks keeps the table of WebDAV write locks.
//
// Locks live in process memory only and disappear on restart. A resource holds
// no lock, any number of shared locks, or exactly one exclusive lock; a lock
// with depth infinity also covers every resource below its root.
package locks

import (
	"errors"
	"time"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/resolver"
)

var (
	// ErrLocked is returned when a request conflicts with a live lock.
	ErrLocked = errors.New("resource is locked")

	// ErrNoSuchLock is returned when a token matches no live lock on the resource.
	ErrNoSuchLock = errors.New("no such lock")
)

// TokenPrefix starts every lock token.
const TokenPrefix = "opaquelocktoken:"

// Scope is the lock scope.
type Scope int

const (
	Exclusive Scope = iota
	Shared
)

func (s Scope) String() string {
	if s == Shared {
		return "shared"
	}
	return "exclusive"
}

// Depth is how far a lock reaches.
type Depth int

const (
	DepthZero Depth = iota
	DepthInfinity
)

func (d Depth) String() string {
	if d == DepthInfinity {
		return "infinity"
	}
	return "0"
}

// Lock is a granted lock.
type Lock struct {
	Token    string
	Resource adapter.Identity
	Root     resolver.Path
	// Owner is the lockinfo owner as DAV: XML content, echoed in lockdiscovery.
	Owner   string
	Scope   Scope
	Depth   Depth
	Timeout time.Duration
	Expiry  time.Time
}

// Remaining returns the time left before expiry, never negative.
func (l Lock) Remaining(now time.Time) time.Duration {
	if d := l.Expiry.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Covers reports whether l applies to the resource at p.
func (l Lock) Covers(p resolver.Path) bool {
	if l.Root.Equal(p) {
		return true
	}
	return l.Depth == DepthInfinity && p.HasPrefix(l.Root)
}

// overlaps reports whether a lock rooted at p with depth d would share any
// resource with l.
func (l Lock) overlaps(p resolver.Path, d Depth) bool {
	if l.Covers(p) {
		return true
	}
	return d == DepthInfinity && l.Root.HasPrefix(p)
}

// Request asks for a new lock.
type Request struct {
	Resource adapter.Identity
	Root     resolver.Path
	Owner    string
	Scope    Scope
	Depth    Depth
	// Timeout of zero means the manager default.
	Timeout time.Duration
}
