package rest

import (
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/jun/gophdav/internal/adapter"
)

// file is the backend's File JSON.
type file struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	ParentID    string     `json:"parentId,omitempty"`
	Snapshot    *snapshot  `json:"snapshot,omitempty"`
	CreateTime  time.Time  `json:"createTime"`
	UpdateTime  *time.Time `json:"updateTime,omitempty"`
	Version     int64      `json:"version"`
}

type snapshot struct {
	Original *original `json:"original,omitempty"`
}

type original struct {
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
}

type filePage struct {
	Data       []file `json:"data"`
	TotalPages int    `json:"totalPages"`
}

type workspace struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RootID string `json:"rootId"`
}

type workspacePage struct {
	Data       []workspace `json:"data"`
	TotalPages int         `json:"totalPages"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type renameRequest struct {
	Name string `json:"name"`
}

const (
	typeFile   = "file"
	typeFolder = "folder"
)

func (f *file) resource() adapter.Resource {
	r := adapter.Resource{
		Identity: adapter.Identity{WorkspaceID: f.WorkspaceID, FileID: f.ID},
		ParentID: f.ParentID,
		Name:     f.Name,
		Kind:     adapter.KindFile,
		ETag:     fmt.Sprintf("%s-%d", f.ID, f.Version),
		Created:  f.CreateTime,
		Modified: f.CreateTime,
	}
	if f.UpdateTime != nil {
		r.Modified = *f.UpdateTime
	}
	if f.Type == typeFolder {
		r.Kind = adapter.KindCollection
		return r
	}
	if f.Snapshot != nil && f.Snapshot.Original != nil {
		r.Size = f.Snapshot.Original.Size
		ext := f.Snapshot.Original.Extension
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.ContentType = mime.TypeByExtension(ext)
	}
	return r
}

func (w *workspace) resource() adapter.Resource {
	return adapter.Resource{
		Identity: adapter.Identity{WorkspaceID: w.ID, FileID: w.RootID},
		Name:     w.Name,
		Kind:     adapter.KindCollection,
		ETag:     w.RootID,
	}
}
