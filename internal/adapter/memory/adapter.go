package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/spf13/afero"
)

// Adapter is the per-caller view of a Store. It implements adapter.Client.
type Adapter struct {
	store *Store
}

var _ adapter.Client = (*Adapter)(nil)

func (a *Adapter) Lookup(ctx context.Context, p string) (*adapter.Resource, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("lookup"); err != nil {
		return nil, err
	}
	segs := splitPath(p)
	if len(segs) == 0 {
		return &adapter.Resource{Kind: adapter.KindCollection}, nil
	}
	cur, err := s.workspaceRoot(segs[0])
	if err != nil {
		return nil, err
	}
	for _, seg := range segs[1:] {
		if !cur.IsCollection() {
			return nil, adapter.ErrNotFound
		}
		id, ok := cur.children[seg]
		if !ok {
			return nil, adapter.ErrNotFound
		}
		cur = s.nodes[id]
	}
	r := cur.Resource
	return &r, nil
}

func (a *Adapter) List(ctx context.Context, id adapter.Identity) ([]adapter.Resource, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("list"); err != nil {
		return nil, err
	}
	var ids []string
	if id.IsRoot() {
		ids = s.roots
	} else {
		n, err := s.collection(id)
		if err != nil {
			return nil, err
		}
		ids = sortedChildren(n)
	}
	out := make([]adapter.Resource, 0, len(ids))
	for _, cid := range ids {
		out = append(out, s.nodes[cid].Resource)
	}
	return out, nil
}

func (a *Adapter) Open(ctx context.Context, id adapter.Identity) (*adapter.Content, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("open"); err != nil {
		return nil, err
	}
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if n.IsCollection() {
		return nil, fmt.Errorf("%w: %s is a collection", adapter.ErrConflict, n.Name)
	}
	data, err := afero.ReadFile(s.fs, blobPath(n.FileID))
	if err != nil {
		return nil, err
	}
	return &adapter.Content{Resource: n.Resource, Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (a *Adapter) Create(ctx context.Context, parent adapter.Identity, name string, body io.Reader, contentType string) (*adapter.Resource, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("create"); err != nil {
		return nil, err
	}
	p, err := s.collection(parent)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(name); err != nil {
		return nil, err
	}
	if _, taken := p.children[name]; taken {
		return nil, fmt.Errorf("%w: %s already exists", adapter.ErrConflict, name)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	n := s.insert(p, name, adapter.KindFile, contentType)
	if err := s.writeBlob(n, body); err != nil {
		s.remove(n)
		delete(p.children, name)
		return nil, err
	}
	r := n.Resource
	return &r, nil
}

func (a *Adapter) Overwrite(ctx context.Context, id adapter.Identity, body io.Reader, contentType string) (*adapter.Resource, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("overwrite"); err != nil {
		return nil, err
	}
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if n.IsCollection() {
		return nil, fmt.Errorf("%w: %s is a collection", adapter.ErrConflict, n.Name)
	}
	if err := s.writeBlob(n, body); err != nil {
		return nil, err
	}
	if contentType != "" {
		n.ContentType = contentType
	}
	r := n.Resource
	return &r, nil
}

func (a *Adapter) CreateCollection(ctx context.Context, parent adapter.Identity, name string) (*adapter.Resource, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("createcollection"); err != nil {
		return nil, err
	}
	p, err := s.collection(parent)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(name); err != nil {
		return nil, err
	}
	if _, taken := p.children[name]; taken {
		return nil, fmt.Errorf("%w: %s already exists", adapter.ErrConflict, name)
	}
	r := s.insert(p, name, adapter.KindCollection, "").Resource
	return &r, nil
}

func (a *Adapter) Clone(ctx context.Context, parent adapter.Identity, sources ...adapter.Identity) ([]adapter.Resource, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("clone"); err != nil {
		return nil, err
	}
	p, err := s.collection(parent)
	if err != nil {
		return nil, err
	}
	srcs := make([]*node, 0, len(sources))
	for _, id := range sources {
		n, err := s.get(id)
		if err != nil {
			return nil, err
		}
		if n.IsCollection() && s.isAncestor(n, p) {
			return nil, fmt.Errorf("%w: cannot clone %s into itself", adapter.ErrConflict, n.Name)
		}
		srcs = append(srcs, n)
	}
	copies := 1
	if s.cloneFanout > 1 {
		copies = s.cloneFanout
	}
	var out []adapter.Resource
	for _, src := range srcs {
		for range copies {
			dup, err := s.cloneInto(p, src)
			if err != nil {
				return out, err
			}
			out = append(out, dup.Resource)
		}
	}
	return out, nil
}

func (a *Adapter) Rename(ctx context.Context, id adapter.Identity, name string) (*adapter.Resource, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("rename"); err != nil {
		return nil, err
	}
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(name); err != nil {
		return nil, err
	}
	if n.Name == name {
		r := n.Resource
		return &r, nil
	}
	if n.ParentID == "" {
		return nil, fmt.Errorf("%w: workspace roots cannot be renamed", adapter.ErrConflict)
	}
	p := s.nodes[n.ParentID]
	if _, taken := p.children[name]; taken {
		return nil, fmt.Errorf("%w: %s already exists", adapter.ErrConflict, name)
	}
	delete(p.children, n.Name)
	p.children[name] = n.FileID
	n.Name = name
	s.touch(n)
	r := n.Resource
	return &r, nil
}

func (a *Adapter) Delete(ctx context.Context, id adapter.Identity) error {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("delete"); err != nil {
		return err
	}
	n, err := s.get(id)
	if err != nil {
		return err
	}
	if n.ParentID == "" {
		return fmt.Errorf("%w: workspace roots cannot be deleted", adapter.ErrConflict)
	}
	delete(s.nodes[n.ParentID].children, n.Name)
	s.remove(n)
	return nil
}

// movingAdapter adds the atomic move capability.
type movingAdapter struct {
	*Adapter
}

var _ adapter.Mover = (*movingAdapter)(nil)

func (a *movingAdapter) Move(ctx context.Context, id adapter.Identity, parent adapter.Identity) (*adapter.Resource, error) {
	s := a.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("move"); err != nil {
		return nil, err
	}
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	p, err := s.collection(parent)
	if err != nil {
		return nil, err
	}
	if n.ParentID == "" {
		return nil, fmt.Errorf("%w: workspace roots cannot be moved", adapter.ErrConflict)
	}
	if n.WorkspaceID != p.WorkspaceID {
		return nil, fmt.Errorf("%w: cannot move across workspaces", adapter.ErrConflict)
	}
	if n.IsCollection() && s.isAncestor(n, p) {
		return nil, fmt.Errorf("%w: cannot move %s into itself", adapter.ErrConflict, n.Name)
	}
	if n.ParentID == p.FileID {
		r := n.Resource
		return &r, nil
	}
	if _, taken := p.children[n.Name]; taken {
		return nil, fmt.Errorf("%w: %s already exists", adapter.ErrConflict, n.Name)
	}
	delete(s.nodes[n.ParentID].children, n.Name)
	p.children[n.Name] = n.FileID
	n.ParentID = p.FileID
	s.touch(n)
	r := n.Resource
	return &r, nil
}
