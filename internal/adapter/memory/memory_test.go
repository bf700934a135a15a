package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/gophdav/internal/adapter"
)

func newClient(t *testing.T, opts Options) (*Store, adapter.Client) {
	t.Helper()
	s := NewStore(opts)
	s.AddWorkspace("team")
	c, err := s.ForToken(context.Background(), "token")
	if err != nil {
		t.Fatalf("ForToken failed: %v", err)
	}
	return s, c
}

func readAll(t *testing.T, c adapter.Client, id adapter.Identity) string {
	t.Helper()
	content, err := c.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer content.Body.Close()
	b, _ := io.ReadAll(content.Body)
	return string(b)
}

func TestMemoryAdapter_CreateAndList(t *testing.T) {
	_, c := newClient(t, Options{})
	ctx := context.Background()

	root, err := c.Lookup(ctx, "/team")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	file, err := c.Create(ctx, root.Identity, "note.txt", strings.NewReader("hello"), "text/plain")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if file.Name != "note.txt" || file.Size != 5 {
		t.Errorf("unexpected resource %+v", file)
	}
	if file.WorkspaceID != root.WorkspaceID {
		t.Errorf("expected workspace %s, got %s", root.WorkspaceID, file.WorkspaceID)
	}

	children, err := c.List(ctx, root.Identity)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(children) != 1 || children[0].FileID != file.FileID {
		t.Fatalf("expected the new file in the listing, got %+v", children)
	}

	if got := readAll(t, c, file.Identity); got != "hello" {
		t.Errorf("expected content 'hello', got %q", got)
	}
}

func TestMemoryAdapter_VirtualRoot(t *testing.T) {
	s, c := newClient(t, Options{})
	s.AddWorkspace("other")
	ctx := context.Background()

	root, err := c.Lookup(ctx, "/")
	if err != nil {
		t.Fatalf("Lookup(/) failed: %v", err)
	}
	if !root.IsRoot() || !root.IsCollection() {
		t.Fatalf("expected the virtual root, got %+v", root)
	}
	workspaces, err := c.List(ctx, root.Identity)
	if err != nil {
		t.Fatalf("List(root) failed: %v", err)
	}
	if len(workspaces) != 2 || workspaces[0].Name != "team" || workspaces[1].Name != "other" {
		t.Errorf("unexpected workspaces %+v", workspaces)
	}
	if _, err := c.CreateCollection(ctx, root.Identity, "new"); !errors.Is(err, adapter.ErrConflict) {
		t.Errorf("expected ErrConflict creating at the root, got %v", err)
	}
}

func TestMemoryAdapter_Lookup_NotFound(t *testing.T) {
	_, c := newClient(t, Options{})
	ctx := context.Background()

	for _, p := range []string{"/nope", "/team/missing", "/team/missing/deeper"} {
		if _, err := c.Lookup(ctx, p); !errors.Is(err, adapter.ErrNotFound) {
			t.Errorf("Lookup(%q): expected ErrNotFound, got %v", p, err)
		}
	}
}

func TestMemoryAdapter_WrongWorkspaceIsNotFound(t *testing.T) {
	s, c := newClient(t, Options{})
	other := s.AddWorkspace("other")
	f, _ := s.Put("/team/a.txt", []byte("a"))

	forged := adapter.Identity{WorkspaceID: other.WorkspaceID, FileID: f.FileID}
	if _, err := c.Open(context.Background(), forged); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryAdapter_Overwrite(t *testing.T) {
	s, c := newClient(t, Options{})
	f, _ := s.Put("/team/a.txt", []byte("v1"))

	updated, err := c.Overwrite(context.Background(), f.Identity, strings.NewReader("version2"), "")
	if err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	if updated.ETag == f.ETag {
		t.Error("expected ETag to change after overwrite")
	}
	if updated.Size != 8 {
		t.Errorf("expected size 8, got %d", updated.Size)
	}
	if got := readAll(t, c, f.Identity); got != "version2" {
		t.Errorf("expected content 'version2', got %q", got)
	}
}

func TestMemoryAdapter_CreateConflict(t *testing.T) {
	s, c := newClient(t, Options{})
	s.Put("/team/a.txt", []byte("a"))
	root, _ := c.Lookup(context.Background(), "/team")

	_, err := c.Create(context.Background(), root.Identity, "a.txt", strings.NewReader("b"), "")
	if !errors.Is(err, adapter.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryAdapter_Limits(t *testing.T) {
	ctx := context.Background()
	_, c := newClient(t, Options{MaxContentSize: 4, MaxNameLength: 8})
	root, _ := c.Lookup(ctx, "/team")

	t.Run("Name length limit", func(t *testing.T) {
		_, err := c.Create(ctx, root.Identity, strings.Repeat("a", 9), strings.NewReader("ok"), "")
		if err == nil || !strings.Contains(err.Error(), "name too long") {
			t.Errorf("Expected error about name length, got: %v", err)
		}
	})

	t.Run("Content size limit", func(t *testing.T) {
		_, err := c.Create(ctx, root.Identity, "big", strings.NewReader("12345"), "")
		if err == nil || !strings.Contains(err.Error(), "content too large") {
			t.Errorf("Expected error about content size, got: %v", err)
		}
		if _, err := c.Lookup(ctx, "/team/big"); !errors.Is(err, adapter.ErrNotFound) {
			t.Errorf("rejected file must not be left behind, got %v", err)
		}
	})
}

func TestMemoryAdapter_CloneCollection(t *testing.T) {
	s, c := newClient(t, Options{})
	ctx := context.Background()
	s.Put("/team/src/one.txt", []byte("1"))
	s.Put("/team/src/sub/two.txt", []byte("2"))
	src, _ := c.Lookup(ctx, "/team/src")
	root, _ := c.Lookup(ctx, "/team")

	clones, err := c.Clone(ctx, root.Identity, src.Identity)
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	if len(clones) != 1 {
		t.Fatalf("expected 1 clone, got %d", len(clones))
	}
	if clones[0].Name != "Copy of src" {
		t.Errorf("expected a free sibling name, got %q", clones[0].Name)
	}
	two, err := c.Lookup(ctx, "/team/Copy of src/sub/two.txt")
	if err != nil {
		t.Fatalf("deep member not cloned: %v", err)
	}
	if got := readAll(t, c, two.Identity); got != "2" {
		t.Errorf("expected cloned content '2', got %q", got)
	}
}

func TestMemoryAdapter_CloneIntoItself(t *testing.T) {
	s, c := newClient(t, Options{})
	ctx := context.Background()
	s.Mkdir("/team/a/b")
	a, _ := c.Lookup(ctx, "/team/a")
	b, _ := c.Lookup(ctx, "/team/a/b")

	if _, err := c.Clone(ctx, b.Identity, a.Identity); !errors.Is(err, adapter.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryAdapter_CloneFanout(t *testing.T) {
	s, c := newClient(t, Options{})
	ctx := context.Background()
	f, _ := s.Put("/team/a.txt", []byte("a"))
	root, _ := c.Lookup(ctx, "/team")
	s.SetCloneFanout(3)

	clones, err := c.Clone(ctx, root.Identity, f.Identity)
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	if len(clones) != 3 {
		t.Errorf("expected 3 clones, got %d", len(clones))
	}
}

func TestMemoryAdapter_RenameAndDelete(t *testing.T) {
	s, c := newClient(t, Options{})
	ctx := context.Background()
	f, _ := s.Put("/team/old.txt", []byte("x"))
	s.Put("/team/taken.txt", []byte("y"))

	if _, err := c.Rename(ctx, f.Identity, "taken.txt"); !errors.Is(err, adapter.ErrConflict) {
		t.Errorf("expected ErrConflict renaming onto a sibling, got %v", err)
	}
	renamed, err := c.Rename(ctx, f.Identity, "new.txt")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if renamed.ETag == f.ETag {
		t.Error("expected ETag to change after rename")
	}
	if _, err := c.Lookup(ctx, "/team/old.txt"); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("old name still resolves: %v", err)
	}

	if err := c.Delete(ctx, f.Identity); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Lookup(ctx, "/team/new.txt"); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("deleted file still resolves: %v", err)
	}
	if err := c.Delete(ctx, f.Identity); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryAdapter_MoveCapability(t *testing.T) {
	ctx := context.Background()

	_, plain := newClient(t, Options{})
	if _, ok := plain.(adapter.Mover); ok {
		t.Error("plain client must not expose Move")
	}

	s, c := newClient(t, Options{AtomicMove: true})
	mover, ok := c.(adapter.Mover)
	if !ok {
		t.Fatal("expected client to expose Move")
	}
	f, _ := s.Put("/team/a.txt", []byte("a"))
	dir, _ := s.Mkdir("/team/dir")

	moved, err := mover.Move(ctx, f.Identity, dir.Identity)
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if moved.ParentID != dir.FileID {
		t.Errorf("expected parent %s, got %s", dir.FileID, moved.ParentID)
	}
	if _, err := c.Lookup(ctx, "/team/dir/a.txt"); err != nil {
		t.Errorf("moved file does not resolve: %v", err)
	}
}

func TestStore_InjectAndCalls(t *testing.T) {
	s, c := newClient(t, Options{})
	ctx := context.Background()
	f, _ := s.Put("/team/a.txt", []byte("a"))
	if s.Mutations() != 0 {
		t.Fatalf("seeding must not count as mutations, got %d", s.Mutations())
	}

	s.Inject("open", adapter.ErrUnavailable, 1)
	if _, err := c.Open(ctx, f.Identity); !errors.Is(err, adapter.ErrUnavailable) {
		t.Fatalf("expected injected ErrUnavailable, got %v", err)
	}
	if _, err := c.Open(ctx, f.Identity); err != nil {
		t.Fatalf("fault should be consumed, got %v", err)
	}
	if got := s.Calls("open"); got != 2 {
		t.Errorf("expected 2 open calls, got %d", got)
	}

	c.Delete(ctx, f.Identity)
	if s.Mutations() != 1 {
		t.Errorf("expected 1 mutation, got %d", s.Mutations())
	}
}

func TestStore_ForToken(t *testing.T) {
	secret := []byte("test-secret")
	s := NewStore(Options{Validate: JWTValidator(secret)})
	ctx := context.Background()

	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if _, err := s.ForToken(ctx, signed); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}

	for _, tok := range []string{"", "garbage"} {
		if _, err := s.ForToken(ctx, tok); !errors.Is(err, adapter.ErrUnauthorized) {
			t.Errorf("token %q: expected ErrUnauthorized, got %v", tok, err)
		}
	}

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(secret)
	if _, err := s.ForToken(ctx, expired); !errors.Is(err, adapter.ErrUnauthorized) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}
}
