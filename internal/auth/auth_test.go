package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "password" {
			t.Errorf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("password") != "s3cret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Write([]byte(`{"access_token":"tok-` + r.Form.Get("username") + `","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newExchange(url string) *PasswordExchange {
	return NewPasswordExchange(&oauth2.Config{
		ClientID: "gophdav",
		Endpoint: oauth2.Endpoint{TokenURL: url, AuthStyle: oauth2.AuthStyleInParams},
	}, nil)
}

func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, _ := Token(r.Context())
		w.Write([]byte(tok))
	})
}

func TestMiddleware_Bearer(t *testing.T) {
	a := New("gophdav", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PROPFIND", "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def")

	a.Middleware(echo()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "abc.def" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestMiddleware_Cookie(t *testing.T) {
	a := New("gophdav", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})

	a.Middleware(echo()).ServeHTTP(rec, req)

	if rec.Body.String() != "from-cookie" {
		t.Fatalf("expected cookie token, got %q", rec.Body.String())
	}
}

func TestMiddleware_Missing(t *testing.T) {
	rec := httptest.NewRecorder()
	New("gophdav", nil).Middleware(echo()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "" {
		t.Error("no Basic challenge expected when Basic is off")
	}
}

func TestMiddleware_BasicDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.SetBasicAuth("ada", "s3cret")

	New("gophdav", nil).Middleware(echo()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_BasicExchange(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	a := New("gophdav", newExchange(srv.URL))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.SetBasicAuth("ada", "s3cret")
		a.Middleware(echo()).ServeHTTP(rec, req)
		if rec.Body.String() != "tok-ada" {
			t.Fatalf("request %d: got %d %q", i, rec.Code, rec.Body.String())
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected one exchange, got %d", n)
	}
}

func TestMiddleware_BasicRejected(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	a := New("files", newExchange(srv.URL))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.SetBasicAuth("ada", "wrong")
	a.Middleware(echo()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="files"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestPasswordExchange_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newExchange(srv.URL).Token(context.Background(), "ada", "s3cret")
	if !errors.Is(err, ErrExchangeUnavailable) {
		t.Fatalf("expected ErrExchangeUnavailable, got %v", err)
	}
}

func TestPasswordExchange_Forget(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	e := newExchange(srv.URL)
	ctx := context.Background()

	e.Token(ctx, "ada", "s3cret")
	e.Forget()
	e.Token(ctx, "ada", "s3cret")

	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 exchanges after Forget, got %d", n)
	}
}
