package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/gophdav/internal/logger"
)

// HandleRequest serves an API Gateway proxy event through the same router as
// the HTTP server.
func (a *App) HandleRequest(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req, err := toHTTPRequest(ctx, ev)
	if err != nil {
		logger.Warn("rejecting malformed proxy event", "path", ev.Path, "error", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Body:       http.StatusText(http.StatusBadRequest),
		}, nil
	}
	w := newEventWriter()
	a.handler.ServeHTTP(w, req)
	return w.response(req.Method), nil
}

func toHTTPRequest(ctx context.Context, ev events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(ev.Body)
	if ev.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		body = decoded
	}

	u := &url.URL{Path: ev.Path}
	q := url.Values{}
	for k, vs := range ev.MultiValueQueryStringParameters {
		q[k] = append([]string(nil), vs...)
	}
	for k, v := range ev.QueryStringParameters {
		if _, ok := q[k]; !ok {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	// API Gateway hands over the decoded path; re-escape it so names with
	// reserved characters survive the router.
	if escaped := (&url.URL{Path: ev.Path}).EscapedPath(); escaped != ev.Path {
		u.RawPath = escaped
	}

	req, err := http.NewRequestWithContext(ctx, ev.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range ev.MultiValueHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range ev.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	req.Host = req.Header.Get("Host")
	req.RemoteAddr = ev.RequestContext.Identity.SourceIP
	req.ContentLength = int64(len(body))
	return req, nil
}

// eventWriter buffers a response for an API Gateway proxy result.
type eventWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newEventWriter() *eventWriter {
	return &eventWriter{header: make(http.Header)}
}

func (w *eventWriter) Header() http.Header { return w.header }

func (w *eventWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *eventWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *eventWriter) response(method string) events.APIGatewayProxyResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	resp := events.APIGatewayProxyResponse{
		StatusCode:        status,
		MultiValueHeaders: map[string][]string(w.header.Clone()),
	}
	if method == http.MethodHead || w.body.Len() == 0 {
		return resp
	}
	if isText(w.header.Get("Content-Type")) {
		resp.Body = w.body.String()
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(w.body.Bytes())
		resp.IsBase64Encoded = true
	}
	return resp
}

func isText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") || mt == "application/xml" || mt == "application/json"
}
