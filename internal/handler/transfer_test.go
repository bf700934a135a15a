package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/adapter/memory"
	"github.com/jun/gophdav/internal/auth"
	"github.com/jun/gophdav/internal/dav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dest(p string) string { return "http://example.com/dav" + p }

func TestCopy_File(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")
	f.mkdir("/team/docs")

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/docs/b.txt"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/dav/team/docs/b.txt", rec.Header().Get("Location"))

	got, ok := f.read("/team/docs/b.txt")
	require.True(t, ok)
	assert.Equal(t, "alpha", got)
	assert.True(t, f.exists("/team/a.txt"))
	assert.ElementsMatch(t, []string{"b.txt"}, f.names("/team/docs"))
}

func TestCopy_SameCollection(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/b.txt"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, f.names("/team"))
}

func TestCopy_Overwrite(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "new")
	f.put("/team/b.txt", "old")

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/b.txt"), "Overwrite", "F")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	got, _ := f.read("/team/b.txt")
	assert.Equal(t, "old", got)

	rec = f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/b.txt"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	got, _ = f.read("/team/b.txt")
	assert.Equal(t, "new", got)
}

func TestCopy_OverwriteThenCloneFailureJournalsDestination(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "new")
	old := f.put("/team/b.txt", "old")
	f.store.Inject("clone", adapter.ErrUnavailable, 1)

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/b.txt"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, f.exists("/team/b.txt"))

	orphans := f.journal.all()
	require.Len(t, orphans, 1)
	assert.Equal(t, stepDeleteDestination, orphans[0].Step)
	assert.Equal(t, old.Identity, orphans[0].Resource)
	assert.Equal(t, "/team/b.txt", orphans[0].Destination)
	assert.Contains(t, orphans[0].Reason, "clone failed")
}

func TestCopy_CloneFailureWithoutOverwriteIsClean(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "new")
	f.store.Inject("clone", adapter.ErrUnavailable, 1)

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/b.txt"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, f.journal.all())
}

func TestTransfer_FailureAfterOverwriteIsPartial(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "new")
	f.put("/team/b.txt", "old")
	f.store.Inject("rename", adapter.ErrUnavailable, 1)

	req := httptest.NewRequest("COPY", "/dav/team/a.txt", nil)
	req.Header.Set("Destination", dest("/team/b.txt"))
	req = req.WithContext(auth.WithToken(req.Context(), "token"))
	err := f.h.handleCopyMove(httptest.NewRecorder(), req, false)
	require.Error(t, err)
	assert.Equal(t, dav.KindPartialFailure, dav.KindOf(err))

	var serr *stepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, stepRename, serr.Step)
	orphans := f.journal.all()
	require.Len(t, orphans, 1)
	assert.Equal(t, stepDeleteDestination, orphans[0].Step)
}

func TestCopy_CrossWorkspace(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")
	before := f.store.Mutations()

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/other/a.txt"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before, f.store.Mutations())
	assert.False(t, f.exists("/other/a.txt"))

	rec = f.do("MOVE", "/dav/team/a.txt", "", "Destination", dest("/other/a.txt"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before, f.store.Mutations())
	assert.True(t, f.exists("/team/a.txt"))
}

func TestCopy_Collection(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/src/a.txt", "a")
	f.put("/team/src/sub/b.txt", "b")

	rec := f.do("COPY", "/dav/team/src/", "", "Destination", dest("/team/dst/"))
	require.Equal(t, http.StatusCreated, rec.Code)
	got, ok := f.read("/team/dst/sub/b.txt")
	require.True(t, ok)
	assert.Equal(t, "b", got)
	assert.True(t, f.exists("/team/src/sub/b.txt"))
}

func TestCopy_DepthZeroCollection(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/src/a.txt", "a")

	rec := f.do("COPY", "/dav/team/src/", "", "Destination", dest("/team/shell/"), "Depth", "0")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, f.exists("/team/shell"))
	assert.Empty(t, f.names("/team/shell"))
}

func TestCopy_Rejections(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/src/a.txt", "a")

	tests := []struct {
		name string
		src  string
		hdr  []string
		want int
	}{
		{"no destination", "/dav/team/src/a.txt", nil, http.StatusBadRequest},
		{"missing source", "/dav/team/nope", []string{"Destination", dest("/team/x")}, http.StatusNotFound},
		{"missing destination parent", "/dav/team/src/a.txt", []string{"Destination", dest("/team/no/x")}, http.StatusConflict},
		{"into itself", "/dav/team/src/", []string{"Destination", dest("/team/src/inner/")}, http.StatusForbidden},
		{"onto itself", "/dav/team/src/a.txt", []string{"Destination", dest("/team/src/a.txt")}, http.StatusForbidden},
		{"over ancestor", "/dav/team/src/a.txt", []string{"Destination", dest("/team/src")}, http.StatusForbidden},
		{"depth one", "/dav/team/src/", []string{"Destination", dest("/team/d/"), "Depth", "1"}, http.StatusBadRequest},
		{"other host", "/dav/team/src/a.txt", []string{"Destination", "http://elsewhere.example/dav/team/x"}, http.StatusForbidden},
		{"outside prefix", "/dav/team/src/a.txt", []string{"Destination", "/files/team/x"}, http.StatusForbidden},
		{"workspace root", "/dav/team/", []string{"Destination", dest("/team/copy/")}, http.StatusForbidden},
		{"bad overwrite", "/dav/team/src/a.txt", []string{"Destination", dest("/team/x"), "Overwrite", "maybe"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.store.Mutations()
			rec := f.do("COPY", tt.src, "", tt.hdr...)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, before, f.store.Mutations())
		})
	}
}

func TestCopy_MultipleClones(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")
	f.mkdir("/team/docs")
	f.store.SetCloneFanout(2)

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/docs/b.txt"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, f.names("/team/docs"))

	orphans := f.journal.all()
	require.Len(t, orphans, 2)
	for _, o := range orphans {
		assert.Equal(t, "COPY", o.Operation)
		assert.Equal(t, stepClone, o.Step)
		assert.Equal(t, "/team/docs/b.txt", o.Destination)
	}
}

func TestCopy_RenameFailureCompensates(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")
	f.mkdir("/team/docs")
	f.store.Inject("rename", adapter.ErrUnavailable, 1)

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/docs/b.txt"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, f.names("/team/docs"))
	assert.Equal(t, 1, f.store.Calls("delete"))
	assert.Empty(t, f.journal.all())
}

func TestCopy_RenameAndCleanupFailureJournals(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")
	f.mkdir("/team/docs")
	f.store.Inject("rename", adapter.ErrUnavailable, 1)
	f.store.Inject("delete", adapter.ErrUnavailable, 1)

	rec := f.do("COPY", "/dav/team/a.txt", "", "Destination", dest("/team/docs/b.txt"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	orphans := f.journal.all()
	require.Len(t, orphans, 1)
	assert.Equal(t, stepRename, orphans[0].Step)
	assert.Equal(t, "a.txt", orphans[0].Name)
	assert.ElementsMatch(t, []string{"a.txt"}, f.names("/team/docs"))
}

func TestMove_Rename(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "alpha")

	rec := f.do("MOVE", "/dav/team/a.txt", "", "Destination", dest("/team/b.txt"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, f.exists("/team/a.txt"))
	got, _ := f.read("/team/b.txt")
	assert.Equal(t, "alpha", got)
	assert.Zero(t, f.store.Calls("clone"))
}

func TestMove_AcrossCollections(t *testing.T) {
	t.Run("copy then delete", func(t *testing.T) {
		f := newFixture(t, memory.Options{})
		f.put("/team/src/a.txt", "alpha")
		f.mkdir("/team/dst")

		rec := f.do("MOVE", "/dav/team/src/a.txt", "", "Destination", dest("/team/dst/b.txt"))
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.False(t, f.exists("/team/src/a.txt"))
		got, _ := f.read("/team/dst/b.txt")
		assert.Equal(t, "alpha", got)
		assert.Equal(t, 1, f.store.Calls("clone"))
	})

	t.Run("atomic move", func(t *testing.T) {
		f := newFixture(t, memory.Options{AtomicMove: true})
		f.put("/team/src/a.txt", "alpha")
		f.mkdir("/team/dst")

		rec := f.do("MOVE", "/dav/team/src/a.txt", "", "Destination", dest("/team/dst/b.txt"))
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.False(t, f.exists("/team/src/a.txt"))
		assert.True(t, f.exists("/team/dst/b.txt"))
		assert.Equal(t, 1, f.store.Calls("move"))
		assert.Zero(t, f.store.Calls("clone"))
	})
}

func TestMove_Overwrite(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/a.txt", "new")
	f.put("/team/b.txt", "old")

	rec := f.do("MOVE", "/dav/team/a.txt", "", "Destination", dest("/team/b.txt"), "Overwrite", "F")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = f.do("MOVE", "/dav/team/a.txt", "", "Destination", dest("/team/b.txt"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	got, _ := f.read("/team/b.txt")
	assert.Equal(t, "new", got)
	assert.False(t, f.exists("/team/a.txt"))
}

func TestMove_OverwriteThenMoveFailureJournalsDestination(t *testing.T) {
	f := newFixture(t, memory.Options{AtomicMove: true})
	f.put("/team/src/a.txt", "new")
	old := f.put("/team/dst/a.txt", "old")
	f.store.Inject("move", adapter.ErrUnavailable, 1)

	rec := f.do("MOVE", "/dav/team/src/a.txt", "", "Destination", dest("/team/dst/a.txt"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, f.exists("/team/src/a.txt"))
	assert.False(t, f.exists("/team/dst/a.txt"))

	orphans := f.journal.all()
	require.Len(t, orphans, 1)
	assert.Equal(t, stepDeleteDestination, orphans[0].Step)
	assert.Equal(t, old.Identity, orphans[0].Resource)
	assert.Equal(t, "MOVE", orphans[0].Operation)
}

func TestMove_SourceDeleteFailureJournals(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/src/a.txt", "alpha")
	f.mkdir("/team/dst")
	f.store.Inject("delete", adapter.ErrUnavailable, 1)

	rec := f.do("MOVE", "/dav/team/src/a.txt", "", "Destination", dest("/team/dst/a.txt"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, f.exists("/team/src/a.txt"))
	assert.True(t, f.exists("/team/dst/a.txt"))

	orphans := f.journal.all()
	require.Len(t, orphans, 1)
	assert.Equal(t, "MOVE", orphans[0].Operation)
	assert.Equal(t, stepDeleteSource, orphans[0].Step)
}

func TestMove_CollectionDepth(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/src/a.txt", "a")

	rec := f.do("MOVE", "/dav/team/src/", "", "Destination", dest("/team/dst/"), "Depth", "0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, f.exists("/team/src/a.txt"))
}

func TestMove_Locked(t *testing.T) {
	f := newFixture(t, memory.Options{})
	f.put("/team/src/a.txt", "a")
	token := f.lock("/dav/team/src/a.txt", exclusiveLockBody)

	rec := f.do("MOVE", "/dav/team/src/", "", "Destination", dest("/team/dst/"))
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = f.do("MOVE", "/dav/team/src/", "", "Destination", dest("/team/dst/"), "If", "(<"+token+">)")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Zero(t, f.locks.Len())
}
