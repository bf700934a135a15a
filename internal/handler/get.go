package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/dav"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/resolver"
)

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><ul>
{{- if .Parent}}<li><a href="{{.Parent}}">..</a></li>{{end}}
{{- range .Entries}}
<li><a href="{{.Href}}">{{.Name}}{{if .Collection}}/{{end}}</a>{{if not .Collection}} ({{.Size}} bytes){{end}}</li>
{{- end}}
</ul></body></html>
`))

type listingEntry struct {
	Href       string
	Name       string
	Collection bool
	Size       int64
}

func (h *Handler) handleGetHead(w http.ResponseWriter, r *http.Request, head bool) error {
	req, err := h.begin(r)
	if err != nil {
		return err
	}
	res, err := resolver.Resolve(r.Context(), req.client, req.path)
	if err != nil {
		return err
	}

	if res.IsCollection() {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		setEntityHeaders(w, res)
		if head {
			w.WriteHeader(http.StatusOK)
			return nil
		}
		return h.writeListing(w, r, req, res)
	}

	setEntityHeaders(w, res)
	w.Header().Set("Content-Type", contentType(res))
	w.Header().Set("Accept-Ranges", "bytes")

	br, partial := dav.ParseRange(r.Header, res.Size)
	if head {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
		w.WriteHeader(http.StatusOK)
		return nil
	}

	var content *adapter.Content
	if partial {
		content, err = openRange(r, req.client, res, br)
	} else {
		content, err = req.client.Open(r.Context(), res.Identity)
	}
	if err != nil {
		return err
	}
	defer content.Body.Close()

	status, length := http.StatusOK, res.Size
	if partial {
		status, length = http.StatusPartialContent, br.Length
		w.Header().Set("Content-Range", br.ContentRange(res.Size))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if n, err := io.CopyN(w, content.Body, length); err != nil {
		// Headers are gone; all we can do is log the short body.
		logger.Warn("content stream ended early", "path", req.path.String(), "written", n, "want", length, "error", err)
	}
	return nil
}

// openRange uses the backend's ranged read when it has one, and otherwise
// skips the leading bytes of a full read.
func openRange(r *http.Request, c adapter.Client, res *adapter.Resource, br dav.ByteRange) (*adapter.Content, error) {
	if ro, ok := c.(adapter.RangeOpener); ok {
		return ro.OpenRange(r.Context(), res.Identity, br.Start, br.Length)
	}
	content, err := c.Open(r.Context(), res.Identity)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, content.Body, br.Start); err != nil {
		content.Body.Close()
		return nil, dav.Wrap(dav.KindUnavailable, err)
	}
	return content, nil
}

func (h *Handler) writeListing(w http.ResponseWriter, r *http.Request, req *request, res *adapter.Resource) error {
	children, err := req.client.List(r.Context(), res.Identity)
	if err != nil {
		return err
	}
	dir := withKind(req.path, res)
	data := struct {
		Title   string
		Parent  string
		Entries []listingEntry
	}{Title: dir.String()}
	if !dir.IsRoot() {
		data.Parent = h.href(dir.Parent())
	}
	for i := range children {
		c := &children[i]
		data.Entries = append(data.Entries, listingEntry{
			Href:       h.hrefFor(dir.Child(c.Name, c.IsCollection()), c),
			Name:       c.Name,
			Collection: c.IsCollection(),
			Size:       c.Size,
		})
	}
	var buf bytes.Buffer
	if err := listingTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("render listing: %w", err)
	}
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Warn("listing write failed", "path", req.path.String(), "error", err)
	}
	return nil
}

func contentType(r *adapter.Resource) string {
	if r.ContentType != "" {
		return r.ContentType
	}
	return "application/octet-stream"
}
