package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jun/gophdav/internal/adapter"
)

// Client is one caller's session against the REST API.
type Client struct {
	baseURL  *url.URL
	pageSize int
	http     *http.Client
}

var (
	_ adapter.Client      = (*Client)(nil)
	_ adapter.Mover       = (*Client)(nil)
	_ adapter.RangeOpener = (*Client)(nil)
)

func (c *Client) Lookup(ctx context.Context, p string) (*adapter.Resource, error) {
	if p == "" || p == "/" {
		return &adapter.Resource{Kind: adapter.KindCollection}, nil
	}
	var f file
	if err := c.doJSON(ctx, "lookup", http.MethodGet, "/v1/files/get", url.Values{"path": {p}}, nil, &f); err != nil {
		return nil, err
	}
	r := f.resource()
	return &r, nil
}

func (c *Client) List(ctx context.Context, id adapter.Identity) ([]adapter.Resource, error) {
	if id.IsRoot() {
		return c.listWorkspaces(ctx)
	}
	var out []adapter.Resource
	for page := 1; ; page++ {
		var fp filePage
		q := url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(c.pageSize)}}
		if err := c.doJSON(ctx, "list", http.MethodGet, "/v1/files/"+id.FileID+"/list", q, nil, &fp); err != nil {
			return nil, err
		}
		for i := range fp.Data {
			out = append(out, fp.Data[i].resource())
		}
		if page >= fp.TotalPages {
			return out, nil
		}
	}
}

func (c *Client) listWorkspaces(ctx context.Context) ([]adapter.Resource, error) {
	var out []adapter.Resource
	for page := 1; ; page++ {
		var wp workspacePage
		q := url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(c.pageSize)}}
		if err := c.doJSON(ctx, "list_workspaces", http.MethodGet, "/v1/workspaces", q, nil, &wp); err != nil {
			return nil, err
		}
		for i := range wp.Data {
			out = append(out, wp.Data[i].resource())
		}
		if page >= wp.TotalPages {
			return out, nil
		}
	}
}

func (c *Client) Open(ctx context.Context, id adapter.Identity) (*adapter.Content, error) {
	return c.OpenRange(ctx, id, 0, -1)
}

// OpenRange asks the backend for a byte range. A backend that ignores Range
// is handled by skipping and truncating the full body.
func (c *Client) OpenRange(ctx context.Context, id adapter.Identity, offset, length int64) (*adapter.Content, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/files/"+id.FileID+"/original", nil, nil)
	if err != nil {
		return nil, err
	}
	ranged := offset > 0 || length >= 0
	if ranged {
		rangeHdr := fmt.Sprintf("bytes=%d-", offset)
		if length >= 0 {
			rangeHdr = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
		}
		req.Header.Set("Range", rangeHdr)
	}
	resp, err := c.send(ctx, "open", req)
	if err != nil {
		return nil, err
	}

	content := &adapter.Content{
		Resource: adapter.Resource{
			Identity:    id,
			Kind:        adapter.KindFile,
			Size:        resp.ContentLength,
			ContentType: resp.Header.Get("Content-Type"),
			ETag:        resp.Header.Get("ETag"),
		},
		Body: resp.Body,
	}
	if ranged && resp.StatusCode == http.StatusOK {
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil && err != io.EOF {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: open: %v", adapter.ErrUnavailable, err)
		}
		if length >= 0 {
			content.Body = struct {
				io.Reader
				io.Closer
			}{io.LimitReader(resp.Body, length), resp.Body}
		}
	}
	return content, nil
}

func (c *Client) Create(ctx context.Context, parent adapter.Identity, name string, body io.Reader, contentType string) (*adapter.Resource, error) {
	q := url.Values{
		"type":         {typeFile},
		"workspace_id": {parent.WorkspaceID},
		"parent_id":    {parent.FileID},
		"name":         {name},
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files", q, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.fileResponse(ctx, "create", req)
}

func (c *Client) Overwrite(ctx context.Context, id adapter.Identity, body io.Reader, contentType string) (*adapter.Resource, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files/"+id.FileID+"/update", nil, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.fileResponse(ctx, "overwrite", req)
}

func (c *Client) CreateCollection(ctx context.Context, parent adapter.Identity, name string) (*adapter.Resource, error) {
	q := url.Values{
		"type":         {typeFolder},
		"workspace_id": {parent.WorkspaceID},
		"parent_id":    {parent.FileID},
		"name":         {name},
	}
	var f file
	if err := c.doJSON(ctx, "create_collection", http.MethodPost, "/v1/files", q, nil, &f); err != nil {
		return nil, err
	}
	r := f.resource()
	return &r, nil
}

func (c *Client) Clone(ctx context.Context, parent adapter.Identity, sources ...adapter.Identity) ([]adapter.Resource, error) {
	return c.filesCall(ctx, "clone", "/v1/files/"+parent.FileID+"/copy", sources)
}

func (c *Client) Move(ctx context.Context, id adapter.Identity, parent adapter.Identity) (*adapter.Resource, error) {
	moved, err := c.filesCall(ctx, "move", "/v1/files/"+parent.FileID+"/move", []adapter.Identity{id})
	if err != nil {
		return nil, err
	}
	if len(moved) == 0 {
		return nil, fmt.Errorf("%w: move returned no files", adapter.ErrUnavailable)
	}
	return &moved[0], nil
}

func (c *Client) Rename(ctx context.Context, id adapter.Identity, name string) (*adapter.Resource, error) {
	var f file
	if err := c.doJSON(ctx, "rename", http.MethodPost, "/v1/files/"+id.FileID+"/rename", nil, renameRequest{Name: name}, &f); err != nil {
		return nil, err
	}
	r := f.resource()
	return &r, nil
}

func (c *Client) Delete(ctx context.Context, id adapter.Identity) error {
	return c.doJSON(ctx, "delete", http.MethodDelete, "/v1/files/"+id.FileID, nil, nil, nil)
}

func (c *Client) filesCall(ctx context.Context, op, path string, ids []adapter.Identity) ([]adapter.Resource, error) {
	body := idsRequest{IDs: make([]string, len(ids))}
	for i, id := range ids {
		body.IDs[i] = id.FileID
	}
	var files []file
	if err := c.doJSON(ctx, op, http.MethodPost, path, nil, body, &files); err != nil {
		return nil, err
	}
	out := make([]adapter.Resource, len(files))
	for i := range files {
		out[i] = files[i].resource()
	}
	return out, nil
}

func (c *Client) fileResponse(ctx context.Context, op string, req *http.Request) (*adapter.Resource, error) {
	resp, err := c.send(ctx, op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var f file
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	r := f.resource()
	return &r, nil
}

// doJSON sends in (if non-nil) as JSON and decodes the answer into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.send(ctx, op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path += path
	u.RawPath = ""
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// send performs req and maps transport failures and non-2xx answers to adapter errors.
func (c *Client) send(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", adapter.ErrUnavailable, op, err)
	}
	if err := adapter.FromStatus(op, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}
