package handler

import (
	"encoding/xml"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/jun/gophdav/internal/adapter/memory"
	"github.com/jun/gophdav/internal/locks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exclusiveLockBody = `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>mailto:ops@example.com</D:href></D:owner>
</D:lockinfo>`

const sharedLockBody = `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:shared/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
</D:lockinfo>`

// lock takes a lock on target and returns its token.
func (f *fixture) lock(target, body string, hdr ...string) string {
	f.t.Helper()
	rec := f.do("LOCK", target, body, hdr...)
	require.Contains(f.t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	v := rec.Header().Get("Lock-Token")
	require.True(f.t, strings.HasPrefix(v, "<"+locks.TokenPrefix), v)
	return strings.Trim(v, "<>")
}

type lockProp struct {
	Locks []struct {
		Exclusive *struct{} `xml:"lockscope>exclusive"`
		Shared    *struct{} `xml:"lockscope>shared"`
		Depth     string    `xml:"depth"`
		Timeout   string    `xml:"timeout"`
		Token     string    `xml:"locktoken>href"`
		Root      string    `xml:"lockroot>href"`
		OwnerHref string    `xml:"owner>href"`
	} `xml:"lockdiscovery>activelock"`
}

func TestLock_Exclusive(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")

	rec := f.do("LOCK", "/dav/team/a.txt", exclusiveLockBody, "Timeout", "Second-120")
	require.Equal(t, http.StatusOK, rec.Code)
	token := strings.Trim(rec.Header().Get("Lock-Token"), "<>")

	var body lockProp
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Locks, 1)
	l := body.Locks[0]
	assert.NotNil(t, l.Exclusive)
	assert.Equal(t, token, l.Token)
	assert.Equal(t, "/dav/team/a.txt", l.Root)
	assert.Equal(t, "infinity", l.Depth)
	assert.Equal(t, "Second-120", l.Timeout)
	assert.Equal(t, "mailto:ops@example.com", l.OwnerHref)

	assert.Equal(t, http.StatusLocked, f.do("LOCK", "/dav/team/a.txt", exclusiveLockBody).Code)
	assert.Equal(t, http.StatusLocked, f.do("LOCK", "/dav/team/a.txt", sharedLockBody).Code)
}

func TestLock_GuardsWrites(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/docs/a.txt", "alpha")
	token := f.lock("/dav/team/docs/", exclusiveLockBody)
	ifHdr := "(<" + token + ">)"

	rec := f.do(http.MethodPut, "/dav/team/docs/a.txt", "beta")
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Contains(t, rec.Body.String(), "lock-token-submitted")

	assert.Equal(t, http.StatusLocked, f.do(http.MethodDelete, "/dav/team/docs/a.txt", "").Code)
	assert.Equal(t, http.StatusLocked, f.do("MKCOL", "/dav/team/docs/sub/", "").Code)
	assert.Equal(t, http.StatusLocked, f.do(http.MethodPut, "/dav/team/docs/a.txt", "beta", "If", "(<opaquelocktoken:nope>)").Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/dav/team/docs/a.txt", "beta", "If", ifHdr).Code)
	assert.Equal(t, http.StatusCreated, f.do("MKCOL", "/dav/team/docs/sub/", "", "If", ifHdr).Code)

	// Reads ignore locks.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/dav/team/docs/a.txt", "").Code)

	// Depth 0 locks leave members writable.
	f2 := newFixture(t, memory.Options{})
	f2.put("/team/docs/a.txt", "alpha")
	f2.lock("/dav/team/docs/", exclusiveLockBody, "Depth", "0")
	assert.Equal(t, http.StatusNoContent, f2.do(http.MethodPut, "/dav/team/docs/a.txt", "beta").Code)
}

func TestLock_Shared(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")

	first := f.lock("/dav/team/a.txt", sharedLockBody)
	second := f.lock("/dav/team/a.txt", sharedLockBody)
	assert.NotEqual(t, first, second)
	assert.Equal(t, http.StatusLocked, f.do("LOCK", "/dav/team/a.txt", exclusiveLockBody).Code)

	assert.Equal(t, http.StatusLocked, f.do(http.MethodPut, "/dav/team/a.txt", "beta").Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/dav/team/a.txt", "beta", "If", "(<"+second+">)").Code)
}

func TestLock_UnmappedCreatesEmptyFile(t *testing.T) {
	f := newFixture(t, memory.Options{})

	rec := f.do("LOCK", "/dav/team/new.txt", exclusiveLockBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	got, ok := f.read("/team/new.txt")
	require.True(t, ok)
	assert.Empty(t, got)

	assert.Equal(t, http.StatusConflict, f.do("LOCK", "/dav/team/missing/new.txt", exclusiveLockBody).Code)
	assert.Equal(t, http.StatusForbidden, f.do("LOCK", "/dav/", exclusiveLockBody).Code)
}

func TestLock_BadRequests(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")

	assert.Equal(t, http.StatusBadRequest, f.do("LOCK", "/dav/team/a.txt", exclusiveLockBody, "Depth", "1").Code)
	assert.Equal(t, http.StatusBadRequest, f.do("LOCK", "/dav/team/a.txt", "<not-xml").Code)
	assert.Equal(t, http.StatusBadRequest, f.do("LOCK", "/dav/team/a.txt", exclusiveLockBody, "Timeout", "Forever").Code)
	assert.Zero(t, f.locks.Len())
}

func TestLock_Refresh(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")
	token := f.lock("/dav/team/a.txt", exclusiveLockBody, "Timeout", "Second-60")

	rec := f.do("LOCK", "/dav/team/a.txt", "", "If", "(<"+token+">)", "Timeout", "Second-300")
	require.Equal(t, http.StatusOK, rec.Code)
	var body lockProp
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Locks, 1)
	assert.Equal(t, "Second-300", body.Locks[0].Timeout)

	assert.Equal(t, http.StatusPreconditionFailed,
		f.do("LOCK", "/dav/team/a.txt", "", "If", "(<opaquelocktoken:unknown>)").Code)
	assert.Equal(t, http.StatusBadRequest, f.do("LOCK", "/dav/team/a.txt", "").Code)
}

func TestLock_Concurrent(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")

	const n = 12
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = f.do("LOCK", "/dav/team/a.txt", exclusiveLockBody).Code
		}()
	}
	wg.Wait()

	granted := 0
	for _, c := range codes {
		switch c {
		case http.StatusOK:
			granted++
		case http.StatusLocked:
		default:
			t.Errorf("unexpected status %d", c)
		}
	}
	assert.Equal(t, 1, granted)
	assert.Equal(t, 1, f.locks.Len())
}

func TestUnlock(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")
	f.put("/team/b.txt", "beta")
	token := f.lock("/dav/team/a.txt", exclusiveLockBody)

	assert.Equal(t, http.StatusConflict,
		f.do("UNLOCK", "/dav/team/a.txt", "", "Lock-Token", "<opaquelocktoken:wrong>").Code)
	assert.Equal(t, http.StatusConflict,
		f.do("UNLOCK", "/dav/team/b.txt", "", "Lock-Token", "<"+token+">").Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do("UNLOCK", "/dav/team/a.txt", "", "Lock-Token", token).Code)
	assert.Equal(t, 1, f.locks.Len())

	assert.Equal(t, http.StatusNoContent,
		f.do("UNLOCK", "/dav/team/a.txt", "", "Lock-Token", "<"+token+">").Code)
	assert.Zero(t, f.locks.Len())
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/dav/team/a.txt", "gamma").Code)
}

func TestDelete_DropsLocks(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/docs/a.txt", "alpha")
	token := f.lock("/dav/team/docs/a.txt", exclusiveLockBody)

	rec := f.do(http.MethodDelete, "/dav/team/docs/", "", "If", "(<"+token+">)")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.locks.Len())
}
