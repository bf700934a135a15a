package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jun/gophdav/internal/adapter"
	"github.com/spf13/afero"
)

const (
	defaultMaxContentSize = 64 << 20
	defaultMaxNameLength  = 255
)

// Options tunes a Store.
type Options struct {
	// Validate checks bearer tokens. Nil accepts any non-empty token.
	Validate TokenValidator

	// AtomicMove exposes adapter.Mover on clients. Without it MOVE across
	// collections falls back to copy-then-delete.
	AtomicMove bool

	MaxContentSize int64
	MaxNameLength  int
}

// Store is an in-process file-storage backend partitioned into workspaces.
// It is the development backend and the fixture for handler tests.
type Store struct {
	mu    sync.RWMutex
	fs    afero.Fs
	nodes map[string]*node
	roots []string

	opts Options

	calls       map[string]int
	faults      map[string]*fault
	cloneFanout int
}

type node struct {
	adapter.Resource
	children map[string]string
}

type fault struct {
	err   error
	times int
}

// NewStore returns an empty store.
func NewStore(opts Options) *Store {
	if opts.MaxContentSize <= 0 {
		opts.MaxContentSize = defaultMaxContentSize
	}
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = defaultMaxNameLength
	}
	return &Store{
		fs:     afero.NewMemMapFs(),
		nodes:  make(map[string]*node),
		opts:   opts,
		calls:  make(map[string]int),
		faults: make(map[string]*fault),
	}
}

// ForToken implements adapter.Provider.
func (s *Store) ForToken(ctx context.Context, token string) (adapter.Client, error) {
	if token == "" {
		return nil, adapter.ErrUnauthorized
	}
	if s.opts.Validate != nil {
		if err := s.opts.Validate(token); err != nil {
			return nil, fmt.Errorf("%w: %v", adapter.ErrUnauthorized, err)
		}
	}
	a := &Adapter{store: s}
	if s.opts.AtomicMove {
		return &movingAdapter{a}, nil
	}
	return a, nil
}

// AddWorkspace creates a workspace with an empty root collection.
func (s *Store) AddWorkspace(name string) adapter.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := &node{
		Resource: adapter.Resource{
			Identity: adapter.Identity{WorkspaceID: uuid.NewString(), FileID: uuid.NewString()},
			Name:     name,
			Kind:     adapter.KindCollection,
			ETag:     uuid.NewString(),
			Created:  now,
			Modified: now,
		},
		children: make(map[string]string),
	}
	s.nodes[n.FileID] = n
	s.roots = append(s.roots, n.FileID)
	return n.Identity
}

// Mkdir creates every missing collection along p ("/<workspace>/a/b").
func (s *Store) Mkdir(p string) (*adapter.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := splitPath(p)
	if len(segs) == 0 {
		return nil, adapter.ErrConflict
	}
	cur, err := s.workspaceRoot(segs[0])
	if err != nil {
		return nil, err
	}
	for _, seg := range segs[1:] {
		if id, ok := cur.children[seg]; ok {
			cur = s.nodes[id]
			if !cur.IsCollection() {
				return nil, adapter.ErrConflict
			}
			continue
		}
		cur = s.insert(cur, seg, adapter.KindCollection, "")
	}
	r := cur.Resource
	return &r, nil
}

// Put writes content at p, creating parent collections as needed. Seeding
// calls are not counted by Calls.
func (s *Store) Put(p string, content []byte) (*adapter.Resource, error) {
	dir, name := path.Split(strings.TrimSuffix(p, "/"))
	parent, err := s.Mkdir(dir)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pn := s.nodes[parent.FileID]
	var n *node
	if id, ok := pn.children[name]; ok {
		n = s.nodes[id]
		if n.IsCollection() {
			return nil, fmt.Errorf("%w: %s is a collection", adapter.ErrConflict, name)
		}
	} else {
		if err := s.checkName(name); err != nil {
			return nil, err
		}
		n = s.insert(pn, name, adapter.KindFile, mimetype.Detect(content).String())
	}
	if err := s.writeBlob(n, bytes.NewReader(content)); err != nil {
		return nil, err
	}
	r := n.Resource
	return &r, nil
}

// Inject makes the next times calls of op fail with err. times < 0 fails forever.
// Ops are the Client method names in lower case, e.g. "clone", "delete".
func (s *Store) Inject(op string, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, times: times}
}

// SetCloneFanout makes every clone produce n duplicates of each source, the
// way some backends answer a retried copy request.
func (s *Store) SetCloneFanout(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cloneFanout = n
}

// Calls returns how often op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Mutations returns the number of mutating calls received.
func (s *Store) Mutations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, op := range []string{"create", "overwrite", "createcollection", "clone", "rename", "move", "delete"} {
		total += s.calls[op]
	}
	return total
}

// enter records a call and returns an injected fault, if any. s.mu must be held.
func (s *Store) enter(op string) error {
	s.calls[op]++
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			delete(s.faults, op)
		}
	}
	return f.err
}

func (s *Store) workspaceRoot(name string) (*node, error) {
	for _, id := range s.roots {
		if n := s.nodes[id]; n.Name == name {
			return n, nil
		}
	}
	return nil, adapter.ErrNotFound
}

// get returns the node for id, checking that it lives in the claimed workspace.
func (s *Store) get(id adapter.Identity) (*node, error) {
	n, ok := s.nodes[id.FileID]
	if !ok || n.WorkspaceID != id.WorkspaceID {
		return nil, adapter.ErrNotFound
	}
	return n, nil
}

func (s *Store) collection(id adapter.Identity) (*node, error) {
	if id.IsRoot() {
		return nil, fmt.Errorf("%w: workspaces are managed outside this store", adapter.ErrConflict)
	}
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !n.IsCollection() {
		return nil, fmt.Errorf("%w: %s is not a collection", adapter.ErrConflict, n.Name)
	}
	return n, nil
}

func (s *Store) insert(parent *node, name string, kind adapter.Kind, contentType string) *node {
	now := time.Now().UTC()
	n := &node{
		Resource: adapter.Resource{
			Identity:    adapter.Identity{WorkspaceID: parent.WorkspaceID, FileID: uuid.NewString()},
			ParentID:    parent.FileID,
			Name:        name,
			Kind:        kind,
			ContentType: contentType,
			ETag:        uuid.NewString(),
			Created:     now,
			Modified:    now,
		},
	}
	if kind == adapter.KindCollection {
		n.children = make(map[string]string)
	}
	s.nodes[n.FileID] = n
	parent.children[name] = n.FileID
	parent.Modified = now
	return n
}

func (s *Store) checkName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: invalid name %q", adapter.ErrConflict, name)
	}
	if len(name) > s.opts.MaxNameLength {
		return fmt.Errorf("%w: name too long (max %d characters)", adapter.ErrConflict, s.opts.MaxNameLength)
	}
	return nil
}

func (s *Store) writeBlob(n *node, body io.Reader) error {
	var buf bytes.Buffer
	if body != nil {
		written, err := io.Copy(&buf, io.LimitReader(body, s.opts.MaxContentSize+1))
		if err != nil {
			return err
		}
		if written > s.opts.MaxContentSize {
			return fmt.Errorf("%w: content too large (max %d bytes)", adapter.ErrConflict, s.opts.MaxContentSize)
		}
	}
	if err := afero.WriteFile(s.fs, blobPath(n.FileID), buf.Bytes(), 0o644); err != nil {
		return err
	}
	n.Size = int64(buf.Len())
	n.ETag = uuid.NewString()
	n.Modified = time.Now().UTC()
	return nil
}

// freeName picks a sibling name for a clone of name under parent.
func freeName(parent *node, name string) string {
	if _, taken := parent.children[name]; !taken {
		return name
	}
	candidate := "Copy of " + name
	for i := 2; ; i++ {
		if _, taken := parent.children[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("Copy (%d) of %s", i, name)
	}
}

func (s *Store) touch(n *node) {
	n.ETag = uuid.NewString()
	n.Modified = time.Now().UTC()
}

func (s *Store) cloneInto(parent, src *node) (*node, error) {
	dup := s.insert(parent, freeName(parent, src.Name), src.Kind, src.ContentType)
	if !src.IsCollection() {
		data, err := afero.ReadFile(s.fs, blobPath(src.FileID))
		if err != nil {
			return nil, err
		}
		if err := s.writeBlob(dup, bytes.NewReader(data)); err != nil {
			return nil, err
		}
		return dup, nil
	}
	for _, id := range sortedChildren(src) {
		if _, err := s.cloneInto(dup, s.nodes[id]); err != nil {
			return nil, err
		}
	}
	return dup, nil
}

func (s *Store) remove(n *node) {
	for _, id := range n.children {
		s.remove(s.nodes[id])
	}
	if !n.IsCollection() {
		_ = s.fs.Remove(blobPath(n.FileID))
	}
	delete(s.nodes, n.FileID)
}

func (s *Store) isAncestor(ancestor, n *node) bool {
	for cur := n; cur != nil; cur = s.nodes[cur.ParentID] {
		if cur.FileID == ancestor.FileID {
			return true
		}
		if cur.ParentID == "" {
			return false
		}
	}
	return false
}

func sortedChildren(n *node) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	ids := make([]string, len(names))
	for i, name := range names {
		ids[i] = n.children[name]
	}
	return ids
}

func blobPath(fileID string) string {
	return "/blobs/" + fileID
}

func splitPath(p string) []string {
	var segs []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}
