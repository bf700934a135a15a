package adapter

import (
	"context"
	"io"
	"time"
)

// Kind distinguishes plain files from collections.
type Kind int

const (
	KindFile Kind = iota
	KindCollection
)

func (k Kind) String() string {
	if k == KindCollection {
		return "collection"
	}
	return "file"
}

// Identity is the backend-assigned address of a resource. It is opaque to the
// gateway; two identities are compared on WorkspaceID only for cross-workspace checks.
type Identity struct {
	WorkspaceID string `json:"workspaceId"`
	FileID      string `json:"id"`
}

// IsRoot reports whether the identity is the virtual root that lists workspaces.
func (id Identity) IsRoot() bool {
	return id.WorkspaceID == "" && id.FileID == ""
}

func (id Identity) String() string {
	if id.IsRoot() {
		return "<root>"
	}
	return id.WorkspaceID + "/" + id.FileID
}

// Resource describes a file or collection held by the backend.
type Resource struct {
	Identity
	ParentID    string    `json:"parentId,omitempty"`
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// IsCollection reports whether r can contain other resources.
func (r *Resource) IsCollection() bool {
	return r.Kind == KindCollection
}

// Content is an open file body. Callers must close Body.
type Content struct {
	Resource
	Body io.ReadCloser
}

// Client is the authenticated view of the backend file-storage service for one
// caller. Every method carries the caller's bearer token unmodified.
//
// Errors are the sentinels in errors.go (possibly wrapped); anything else is
// treated as a server error.
type Client interface {
	// Lookup resolves a logical path ("/", "/<workspace>/a/b") to a resource.
	// "/" is the virtual root whose children are the workspace root collections.
	Lookup(ctx context.Context, path string) (*Resource, error)

	// List returns the immediate children of a collection.
	List(ctx context.Context, id Identity) ([]Resource, error)

	// Open streams a file's content.
	Open(ctx context.Context, id Identity) (*Content, error)

	// Create stores a new file under parent.
	Create(ctx context.Context, parent Identity, name string, body io.Reader, contentType string) (*Resource, error)

	// Overwrite replaces the content of an existing file.
	Overwrite(ctx context.Context, id Identity, body io.Reader, contentType string) (*Resource, error)

	// CreateCollection creates an empty collection under parent.
	CreateCollection(ctx context.Context, parent Identity, name string) (*Resource, error)

	// Clone duplicates sources (recursively for collections) into parent. The
	// clones keep the source names unless a sibling already uses them, in which
	// case the backend picks a free name.
	Clone(ctx context.Context, parent Identity, sources ...Identity) ([]Resource, error)

	// Rename changes a resource's name within its current parent.
	Rename(ctx context.Context, id Identity, name string) (*Resource, error)

	// Delete removes a resource and, for collections, all members.
	Delete(ctx context.Context, id Identity) error
}

// Mover is implemented by backends with an atomic cross-parent move.
type Mover interface {
	Move(ctx context.Context, id Identity, parent Identity) (*Resource, error)
}

// RangeOpener is implemented by backends that serve partial content natively.
// length < 0 reads to the end.
type RangeOpener interface {
	OpenRange(ctx context.Context, id Identity, offset, length int64) (*Content, error)
}
