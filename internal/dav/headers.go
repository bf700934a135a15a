package dav

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jun/gophdav/internal/resolver"
)

// Depth is the value of the Depth header.
type Depth int

const (
	DepthZero Depth = iota
	DepthOne
	DepthInfinity
)

func (d Depth) String() string {
	switch d {
	case DepthZero:
		return "0"
	case DepthOne:
		return "1"
	}
	return "infinity"
}

// ParseDepth reads the Depth header, returning def when it is absent.
func ParseDepth(h http.Header, def Depth) (Depth, error) {
	switch strings.ToLower(strings.TrimSpace(h.Get("Depth"))) {
	case "":
		return def, nil
	case "0":
		return DepthZero, nil
	case "1":
		return DepthOne, nil
	case "infinity":
		return DepthInfinity, nil
	}
	return 0, Errorf(KindMalformed, "invalid Depth header %q", h.Get("Depth"))
}

// ParseOverwrite reads the Overwrite header. Absent means true.
func ParseOverwrite(h http.Header) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(h.Get("Overwrite"))) {
	case "", "T":
		return true, nil
	case "F":
		return false, nil
	}
	return false, Errorf(KindMalformed, "invalid Overwrite header %q", h.Get("Overwrite"))
}

// ParseDestination reads the Destination header of r and returns the path
// below prefix. An absolute URL must name the same host as the request.
func ParseDestination(r *http.Request, prefix string) (resolver.Path, error) {
	raw := strings.TrimSpace(r.Header.Get("Destination"))
	if raw == "" {
		return resolver.Path{}, Errorf(KindMalformed, "missing Destination header")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return resolver.Path{}, Errorf(KindMalformed, "invalid Destination header: %w", err)
	}
	if u.Host != "" && !strings.EqualFold(u.Host, r.Host) {
		return resolver.Path{}, Errorf(KindForbidden, "destination %q is on another server", u.Host)
	}
	escaped := u.EscapedPath()
	if prefix != "" {
		rest, ok := strings.CutPrefix(escaped, prefix)
		if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
			return resolver.Path{}, Errorf(KindForbidden, "destination %q is outside %s", escaped, prefix)
		}
		escaped = rest
	}
	p, err := resolver.ParsePath(escaped)
	if err != nil {
		return resolver.Path{}, Wrap(KindMalformed, err)
	}
	return p, nil
}

// ParseLockToken reads the Lock-Token header of UNLOCK, "<token>".
func ParseLockToken(h http.Header) (string, error) {
	v := strings.TrimSpace(h.Get("Lock-Token"))
	if len(v) < 3 || v[0] != '<' || v[len(v)-1] != '>' {
		return "", Errorf(KindMalformed, "invalid Lock-Token header %q", v)
	}
	return v[1 : len(v)-1], nil
}

// Infinite is returned by ParseTimeout for "Infinite"; the lock manager caps it.
const Infinite = time.Duration(math.MaxInt64)

// ParseTimeout reads the Timeout header, taking the first value it
// understands. Zero means no preference.
func ParseTimeout(h http.Header) (time.Duration, error) {
	v := strings.TrimSpace(h.Get("Timeout"))
	if v == "" {
		return 0, nil
	}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if strings.EqualFold(part, "Infinite") {
			return Infinite, nil
		}
		if n, ok := strings.CutPrefix(part, "Second-"); ok {
			secs, err := strconv.ParseInt(n, 10, 64)
			if err != nil || secs < 0 {
				continue
			}
			if secs > int64(Infinite/time.Second) {
				return Infinite, nil
			}
			return time.Duration(secs) * time.Second, nil
		}
	}
	return 0, Errorf(KindMalformed, "invalid Timeout header %q", v)
}

// ByteRange is a resolved single byte range.
type ByteRange struct {
	Start, Length int64
}

// ContentRange renders the Content-Range value for a body of size bytes.
func (br ByteRange) ContentRange(size int64) string {
	return "bytes " + strconv.FormatInt(br.Start, 10) + "-" +
		strconv.FormatInt(br.Start+br.Length-1, 10) + "/" + strconv.FormatInt(size, 10)
}

// ParseRange resolves a single-range Range header against size. ok is false
// when the header is absent, lists several ranges, or cannot be satisfied;
// the caller then serves the whole body.
func ParseRange(h http.Header, size int64) (br ByteRange, ok bool) {
	v := strings.TrimSpace(h.Get("Range"))
	ranges, found := strings.CutPrefix(v, "bytes=")
	if !found || strings.Contains(ranges, ",") || size <= 0 {
		return ByteRange{}, false
	}
	first, last, found := strings.Cut(strings.TrimSpace(ranges), "-")
	if !found {
		return ByteRange{}, false
	}
	if first == "" {
		// Suffix range: the last N bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, false
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, Length: n}, true
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return ByteRange{}, false
	}
	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return ByteRange{}, false
		}
		if e < end {
			end = e
		}
	}
	return ByteRange{Start: start, Length: end - start + 1}, true
}
