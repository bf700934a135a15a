package googledrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jun/gophdav/internal/adapter"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const folderMIME = "application/vnd.google-apps.folder"

const fileFields = "id, name, mimeType, createdTime, modifiedTime, size, md5Checksum, version, parents, driveId"

// DriveAdapter implements adapter.Client for Google Drive shared drives.
type DriveAdapter struct {
	service  *drive.Service
	driveIDs []string
}

var (
	_ adapter.Client      = (*DriveAdapter)(nil)
	_ adapter.Mover       = (*DriveAdapter)(nil)
	_ adapter.RangeOpener = (*DriveAdapter)(nil)
)

func newDriveAdapter(srv *drive.Service, driveIDs []string) *DriveAdapter {
	return &DriveAdapter{service: srv, driveIDs: driveIDs}
}

// Lookup walks the path from the shared drive named by its first segment.
func (d *DriveAdapter) Lookup(ctx context.Context, p string) (*adapter.Resource, error) {
	segs := splitPath(p)
	if len(segs) == 0 {
		return &adapter.Resource{Kind: adapter.KindCollection}, nil
	}
	drives, err := d.listDrives(ctx)
	if err != nil {
		return nil, err
	}
	var cur *adapter.Resource
	for i := range drives {
		if drives[i].Name == segs[0] {
			cur = &drives[i]
			break
		}
	}
	if cur == nil {
		return nil, adapter.ErrNotFound
	}
	for _, seg := range segs[1:] {
		if !cur.IsCollection() {
			return nil, adapter.ErrNotFound
		}
		f, err := d.childNamed(ctx, cur.Identity, seg)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, adapter.ErrNotFound
		}
		r := toResource(f)
		cur = &r
	}
	return cur, nil
}

// List lists the children of a folder, or the shared drives for the root.
func (d *DriveAdapter) List(ctx context.Context, id adapter.Identity) ([]adapter.Resource, error) {
	if id.IsRoot() {
		return d.listDrives(ctx)
	}
	q := fmt.Sprintf("'%s' in parents and trashed = false", escape(id.FileID))
	files, err := d.query(ctx, id.WorkspaceID, q)
	if err != nil {
		return nil, err
	}
	out := make([]adapter.Resource, len(files))
	for i, f := range files {
		out[i] = toResource(f)
	}
	return out, nil
}

func (d *DriveAdapter) Open(ctx context.Context, id adapter.Identity) (*adapter.Content, error) {
	return d.OpenRange(ctx, id, 0, -1)
}

func (d *DriveAdapter) OpenRange(ctx context.Context, id adapter.Identity, offset, length int64) (*adapter.Content, error) {
	meta, err := d.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.MimeType == folderMIME {
		return nil, fmt.Errorf("%w: %s is a folder", adapter.ErrConflict, meta.Name)
	}
	call := d.service.Files.Get(id.FileID).SupportsAllDrives(true).Context(ctx)
	if offset > 0 || length >= 0 {
		rangeHdr := fmt.Sprintf("bytes=%d-", offset)
		if length >= 0 {
			rangeHdr = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
		}
		call.Header().Set("Range", rangeHdr)
	}
	resp, err := call.Download()
	if err != nil {
		return nil, mapErr("open", err)
	}
	return &adapter.Content{Resource: toResource(meta), Body: resp.Body}, nil
}

func (d *DriveAdapter) Create(ctx context.Context, parent adapter.Identity, name string, body io.Reader, contentType string) (*adapter.Resource, error) {
	if err := d.ensureFree(ctx, parent, name); err != nil {
		return nil, err
	}
	f := &drive.File{Name: name, Parents: []string{parent.FileID}}
	var opts []googleapi.MediaOption
	if contentType != "" {
		f.MimeType = contentType
		opts = append(opts, googleapi.ContentType(contentType))
	}
	res, err := d.service.Files.Create(f).
		Media(body, opts...).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("create", err)
	}
	r := toResource(res)
	return &r, nil
}

func (d *DriveAdapter) Overwrite(ctx context.Context, id adapter.Identity, body io.Reader, contentType string) (*adapter.Resource, error) {
	var opts []googleapi.MediaOption
	if contentType != "" {
		opts = append(opts, googleapi.ContentType(contentType))
	}
	res, err := d.service.Files.Update(id.FileID, &drive.File{}).
		Media(body, opts...).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("overwrite", err)
	}
	r := toResource(res)
	return &r, nil
}

func (d *DriveAdapter) CreateCollection(ctx context.Context, parent adapter.Identity, name string) (*adapter.Resource, error) {
	if err := d.ensureFree(ctx, parent, name); err != nil {
		return nil, err
	}
	f, err := d.createFolder(ctx, parent.FileID, name)
	if err != nil {
		return nil, err
	}
	r := toResource(f)
	return &r, nil
}

// Clone copies files with Files.Copy. Drive cannot copy folders, so those are
// recreated and their members cloned one by one.
func (d *DriveAdapter) Clone(ctx context.Context, parent adapter.Identity, sources ...adapter.Identity) ([]adapter.Resource, error) {
	var out []adapter.Resource
	for _, src := range sources {
		meta, err := d.get(ctx, src)
		if err != nil {
			return out, err
		}
		name, err := d.freeName(ctx, parent, meta.Name)
		if err != nil {
			return out, err
		}
		f, err := d.cloneInto(ctx, parent, meta, name)
		if err != nil {
			return out, err
		}
		out = append(out, toResource(f))
	}
	return out, nil
}

func (d *DriveAdapter) cloneInto(ctx context.Context, parent adapter.Identity, src *drive.File, name string) (*drive.File, error) {
	if src.MimeType != folderMIME {
		res, err := d.service.Files.Copy(src.Id, &drive.File{Name: name, Parents: []string{parent.FileID}}).
			SupportsAllDrives(true).
			Fields(fileFields).
			Context(ctx).
			Do()
		if err != nil {
			return nil, mapErr("clone", err)
		}
		return res, nil
	}
	dir, err := d.createFolder(ctx, parent.FileID, name)
	if err != nil {
		return nil, err
	}
	dirID := adapter.Identity{WorkspaceID: parent.WorkspaceID, FileID: dir.Id}
	children, err := d.query(ctx, parent.WorkspaceID, fmt.Sprintf("'%s' in parents and trashed = false", escape(src.Id)))
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if _, err := d.cloneInto(ctx, dirID, child, child.Name); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func (d *DriveAdapter) Rename(ctx context.Context, id adapter.Identity, name string) (*adapter.Resource, error) {
	meta, err := d.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.Name == name {
		r := toResource(meta)
		return &r, nil
	}
	if len(meta.Parents) > 0 {
		if err := d.ensureFree(ctx, adapter.Identity{WorkspaceID: id.WorkspaceID, FileID: meta.Parents[0]}, name); err != nil {
			return nil, err
		}
	}
	res, err := d.service.Files.Update(id.FileID, &drive.File{Name: name}).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("rename", err)
	}
	r := toResource(res)
	return &r, nil
}

func (d *DriveAdapter) Move(ctx context.Context, id adapter.Identity, parent adapter.Identity) (*adapter.Resource, error) {
	meta, err := d.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if slices.Contains(meta.Parents, parent.FileID) {
		r := toResource(meta)
		return &r, nil
	}
	if err := d.ensureFree(ctx, parent, meta.Name); err != nil {
		return nil, err
	}
	res, err := d.service.Files.Update(id.FileID, &drive.File{}).
		AddParents(parent.FileID).
		RemoveParents(strings.Join(meta.Parents, ",")).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("move", err)
	}
	r := toResource(res)
	return &r, nil
}

func (d *DriveAdapter) Delete(ctx context.Context, id adapter.Identity) error {
	if err := d.service.Files.Delete(id.FileID).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return mapErr("delete", err)
	}
	return nil
}

func (d *DriveAdapter) get(ctx context.Context, id adapter.Identity) (*drive.File, error) {
	f, err := d.service.Files.Get(id.FileID).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("get", err)
	}
	if f.DriveId != id.WorkspaceID {
		return nil, adapter.ErrNotFound
	}
	return f, nil
}

func (d *DriveAdapter) createFolder(ctx context.Context, parentID, name string) (*drive.File, error) {
	res, err := d.service.Files.Create(&drive.File{Name: name, MimeType: folderMIME, Parents: []string{parentID}}).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("create_collection", err)
	}
	return res, nil
}

// childNamed returns the oldest child called name, or nil. Drive tolerates
// duplicate names; picking the oldest keeps resolution deterministic.
func (d *DriveAdapter) childNamed(ctx context.Context, parent adapter.Identity, name string) (*drive.File, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escape(name), escape(parent.FileID))
	files, err := d.query(ctx, parent.WorkspaceID, q)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return files[0], nil
}

func (d *DriveAdapter) ensureFree(ctx context.Context, parent adapter.Identity, name string) error {
	f, err := d.childNamed(ctx, parent, name)
	if err != nil {
		return err
	}
	if f != nil {
		return fmt.Errorf("%w: %s already exists", adapter.ErrConflict, name)
	}
	return nil
}

func (d *DriveAdapter) freeName(ctx context.Context, parent adapter.Identity, name string) (string, error) {
	candidate := name
	for i := 1; ; i++ {
		f, err := d.childNamed(ctx, parent, candidate)
		if err != nil {
			return "", err
		}
		if f == nil {
			return candidate, nil
		}
		if i == 1 {
			candidate = "Copy of " + name
		} else {
			candidate = fmt.Sprintf("Copy (%d) of %s", i, name)
		}
	}
}

func (d *DriveAdapter) query(ctx context.Context, driveID, q string) ([]*drive.File, error) {
	var out []*drive.File
	call := d.service.Files.List().
		Q(q).
		Corpora("drive").
		DriveId(driveID).
		IncludeItemsFromAllDrives(true).
		SupportsAllDrives(true).
		OrderBy("createdTime").
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")"))
	err := call.Pages(ctx, func(page *drive.FileList) error {
		out = append(out, page.Files...)
		return nil
	})
	if err != nil {
		return nil, mapErr("list", err)
	}
	return out, nil
}

func (d *DriveAdapter) listDrives(ctx context.Context) ([]adapter.Resource, error) {
	var out []adapter.Resource
	err := d.service.Drives.List().PageSize(100).Pages(ctx, func(page *drive.DriveList) error {
		for _, dr := range page.Drives {
			if len(d.driveIDs) > 0 && !slices.Contains(d.driveIDs, dr.Id) {
				continue
			}
			created, _ := time.Parse(time.RFC3339, dr.CreatedTime)
			out = append(out, adapter.Resource{
				Identity: adapter.Identity{WorkspaceID: dr.Id, FileID: dr.Id},
				Name:     dr.Name,
				Kind:     adapter.KindCollection,
				ETag:     dr.Id,
				Created:  created,
				Modified: created,
			})
		}
		return nil
	})
	if err != nil {
		return nil, mapErr("list_drives", err)
	}
	return out, nil
}

func toResource(f *drive.File) adapter.Resource {
	created, _ := time.Parse(time.RFC3339, f.CreatedTime)
	modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	r := adapter.Resource{
		Identity:    adapter.Identity{WorkspaceID: f.DriveId, FileID: f.Id},
		Name:        f.Name,
		Kind:        adapter.KindFile,
		Size:        f.Size,
		ContentType: f.MimeType,
		ETag:        f.Md5Checksum,
		Created:     created,
		Modified:    modTime,
	}
	if r.ETag == "" {
		r.ETag = f.Id + "-" + strconv.FormatInt(f.Version, 10)
	}
	if len(f.Parents) > 0 {
		r.ParentID = f.Parents[0]
	}
	if f.MimeType == folderMIME {
		r.Kind = adapter.KindCollection
		r.ContentType = ""
		r.Size = 0
	}
	return r
}

// mapErr translates Drive API failures into adapter errors.
func mapErr(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if mapped := adapter.FromStatus(op, gErr.Code); mapped != nil {
			return fmt.Errorf("%w (%s)", mapped, gErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", adapter.ErrUnavailable, op, err)
}

// escape quotes a value for a Drive query string literal.
func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
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
