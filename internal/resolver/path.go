// Package resolver turns wire paths into backend resources.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedPath is returned for paths that cannot name a resource.
var ErrMalformedPath = errors.New("malformed path")

// Path is a normalized, decoded resource path. The zero value is the root.
type Path struct {
	segments []string
	// Collection records a trailing slash on the wire.
	Collection bool
}

// Root is the path "/".
var Root = Path{Collection: true}

// ParsePath normalizes an escaped wire path: repeated separators collapse,
// percent-escapes are decoded, and a trailing slash marks a collection.
// Dot segments, NUL bytes and encoded separators are rejected.
func ParsePath(escaped string) (Path, error) {
	if !strings.HasPrefix(escaped, "/") {
		escaped = "/" + escaped
	}
	var p Path
	for _, raw := range strings.Split(escaped, "/") {
		if raw == "" {
			continue
		}
		seg, err := url.PathUnescape(raw)
		if err != nil {
			return Path{}, fmt.Errorf("%w: %v", ErrMalformedPath, err)
		}
		switch {
		case seg == "." || seg == "..":
			return Path{}, fmt.Errorf("%w: dot segment", ErrMalformedPath)
		case strings.ContainsRune(seg, 0):
			return Path{}, fmt.Errorf("%w: NUL byte", ErrMalformedPath)
		case strings.Contains(seg, "/"):
			return Path{}, fmt.Errorf("%w: encoded separator", ErrMalformedPath)
		}
		p.segments = append(p.segments, seg)
	}
	p.Collection = len(p.segments) == 0 || strings.HasSuffix(escaped, "/")
	return p, nil
}

// MustParse is ParsePath for literals. It panics on error.
func MustParse(escaped string) Path {
	p, err := ParsePath(escaped)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the decoded path without the trailing slash, e.g. "/ws/a b".
func (p Path) String() string {
	if len(p.segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.segments, "/")
}

// Escaped returns the path percent-encoded for use in a URL or href. Collections
// keep their trailing slash.
func (p Path) Escaped() string {
	var b strings.Builder
	for _, seg := range p.segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	if len(p.segments) == 0 || p.Collection {
		b.WriteByte('/')
	}
	return b.String()
}

// IsRoot reports whether p is "/".
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Depth is the number of segments.
func (p Path) Depth() int { return len(p.segments) }

// Segments returns a copy of the decoded segments.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Base returns the final segment, or "" for the root.
func (p Path) Base() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the enclosing collection. The root is its own parent.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return Root
	}
	return Path{segments: p.segments[: len(p.segments)-1 : len(p.segments)-1], Collection: true}
}

// Child appends one segment.
func (p Path) Child(name string, collection bool) Path {
	segs := make([]string, len(p.segments), len(p.segments)+1)
	copy(segs, p.segments)
	return Path{segments: append(segs, name), Collection: collection}
}

// Equal compares paths ignoring the collection marker.
func (p Path) Equal(o Path) bool {
	if len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p is anc or lies below it.
func (p Path) HasPrefix(anc Path) bool {
	if len(anc.segments) > len(p.segments) {
		return false
	}
	for i := range anc.segments {
		if p.segments[i] != anc.segments[i] {
			return false
		}
	}
	return true
}
