package handler

import (
	"context"
	"encoding/xml"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/dav"
	"github.com/jun/gophdav/internal/logger"
	"github.com/jun/gophdav/internal/resolver"
)

// member is one resource reported by PROPFIND. err is set when the member is
// a collection whose children could not be listed.
type member struct {
	path resolver.Path
	res  adapter.Resource
	err  error
}

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request) error {
	req, err := h.begin(r)
	if err != nil {
		return err
	}
	ctx := r.Context()

	depth, err := dav.ParseDepth(r.Header, dav.DepthInfinity)
	if err != nil {
		return err
	}
	pf, err := dav.ReadPropFind(r.Body)
	if err != nil {
		return err
	}
	res, err := resolver.Resolve(ctx, req.client, req.path)
	if err != nil {
		return err
	}

	levels := h.maxDepth
	switch depth {
	case dav.DepthZero:
		levels = 0
	case dav.DepthOne:
		levels = 1
	}
	members := h.walk(ctx, req.client, member{path: withKind(req.path, res), res: *res}, levels)

	ms := &dav.MultiStatus{Responses: make([]dav.Response, 0, len(members))}
	for i := range members {
		if err := members[i].err; err != nil {
			ms.Responses = append(ms.Responses, dav.Response{
				Href:   h.href(members[i].path),
				Status: dav.StatusLine(dav.StatusFor(err)),
			})
			continue
		}
		resp, err := h.propResponse(&members[i], pf)
		if err != nil {
			return err
		}
		ms.Responses = append(ms.Responses, resp)
	}
	return dav.WriteMultiStatus(w, ms)
}

// walk returns start followed by its descendants up to levels deep, breadth
// first. Collections on one level are listed concurrently, at most fanout at
// a time. A collection that cannot be listed keeps its place with err set and
// its subtree is skipped; its siblings are still reported.
func (h *Handler) walk(ctx context.Context, c adapter.Client, start member, levels int) []member {
	out := []member{start}
	frontier := []int{0}
	for level := 0; level < levels && len(frontier) > 0; level++ {
		children := make([][]adapter.Resource, len(frontier))
		errs := make([]error, len(frontier))
		var g errgroup.Group
		g.SetLimit(h.fanout)
		for i, idx := range frontier {
			m := out[idx]
			if !m.res.IsCollection() {
				continue
			}
			g.Go(func() error {
				children[i], errs[i] = c.List(ctx, m.res.Identity)
				return nil
			})
		}
		_ = g.Wait()

		var next []int
		for i, idx := range frontier {
			if errs[i] != nil {
				logger.Warn("propfind listing failed", "path", out[idx].path.String(), "error", errs[i])
				out[idx].err = errs[i]
				continue
			}
			parent := out[idx].path
			for _, child := range children[i] {
				next = append(next, len(out))
				out = append(out, member{path: parent.Child(child.Name, child.IsCollection()), res: child})
			}
		}
		frontier = next
	}
	return out
}

func (h *Handler) propResponse(m *member, pf *dav.PropFind) (dav.Response, error) {
	props, err := h.properties(m)
	if err != nil {
		return dav.Response{}, err
	}
	resp := dav.Response{Href: h.href(m.path)}

	var found, missing []dav.Any
	switch {
	case pf.PropName != nil:
		for _, name := range dav.AllProp {
			if _, ok := props[name]; ok {
				found = append(found, dav.EmptyProp(name))
			}
		}
	case pf.Prop != nil:
		for _, want := range pf.Prop.Props {
			if p, ok := props[want.XMLName]; ok {
				found = append(found, p)
			} else {
				missing = append(missing, dav.EmptyProp(want.XMLName))
			}
		}
	default:
		for _, name := range dav.AllProp {
			if p, ok := props[name]; ok {
				found = append(found, p)
			}
		}
	}

	if len(found) > 0 || len(missing) == 0 {
		resp.PropStats = append(resp.PropStats, dav.PropStat{
			Prop:   dav.Prop{Props: found},
			Status: dav.StatusLine(http.StatusOK),
		})
	}
	if len(missing) > 0 {
		resp.PropStats = append(resp.PropStats, dav.PropStat{
			Prop:   dav.Prop{Props: missing},
			Status: dav.StatusLine(http.StatusNotFound),
		})
	}
	return resp, nil
}

// properties returns the live properties m has a value for.
func (h *Handler) properties(m *member) (map[xml.Name]dav.Any, error) {
	res := &m.res
	props := map[xml.Name]dav.Any{
		dav.DisplayNameName:   dav.TextProp(dav.DisplayNameName, res.Name),
		dav.ResourceTypeName:  dav.ResourceTypeProp(res.IsCollection() || m.path.IsRoot()),
		dav.SupportedLockName: dav.SupportedLockProp(),
	}
	if !res.IsCollection() {
		props[dav.GetContentLengthName] = dav.TextProp(dav.GetContentLengthName, strconv.FormatInt(res.Size, 10))
		props[dav.GetContentTypeName] = dav.TextProp(dav.GetContentTypeName, contentType(res))
	}
	if t := etag(res); t != "" {
		props[dav.GetETagName] = dav.TextProp(dav.GetETagName, t)
	}
	if !res.Modified.IsZero() {
		props[dav.GetLastModifiedName] = dav.TextProp(dav.GetLastModifiedName, res.Modified.UTC().Format(http.TimeFormat))
	}
	if !res.Created.IsZero() {
		props[dav.CreationDateName] = dav.TextProp(dav.CreationDateName, res.Created.UTC().Format(time.RFC3339))
	}

	discovery, err := dav.LockDiscoveryProp(h.locks.Covering(m.path), h.now(), h.lockRoot)
	if err != nil {
		return nil, err
	}
	props[dav.LockDiscoveryName] = discovery
	return props, nil
}
