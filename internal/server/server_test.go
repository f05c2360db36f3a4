package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"

	"github.com/bigkaa/tgproxy/internal/api/handlers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// upperRewriter заменяет маркер TG на PROXY.
type upperRewriter struct{ calls int }

func (u *upperRewriter) RewriteOutput(_ context.Context, body []byte) []byte {
	u.calls++
	return bytes.ReplaceAll(body, []byte("TG"), []byte("PROXY"))
}

type configured bool

func (c configured) Configured() bool { return bool(c) }

// newUpstream запускает хост, отдающий body с указанным Content-Type.
func newUpstream(t *testing.T, contentType, body string) *url.URL {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Accept-Encoding", r.Header.Get("Accept-Encoding"))
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestUpstreamProxy_RewritesText(t *testing.T) {
	u := newUpstream(t, "text/html; charset=utf-8", "<img src=TG>")
	rw := &upperRewriter{}
	proxy := NewUpstreamProxy(u, rw, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	req.Header.Set("Accept-Encoding", "br")
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Body.String() != "<img src=PROXY>" {
		t.Errorf("тело = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != strconv.Itoa(len("<img src=PROXY>")) {
		t.Errorf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}
	if rec.Header().Get("X-Accept-Encoding") == "br" {
		t.Error("Accept-Encoding клиента не должен передаваться хосту при включённой замене")
	}
}

func TestUpstreamProxy_SkipsBinary(t *testing.T) {
	u := newUpstream(t, "image/png", "TG-binary")
	rw := &upperRewriter{}
	proxy := NewUpstreamProxy(u, rw, testLogger())

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logo.png", nil))

	if rec.Body.String() != "TG-binary" {
		t.Errorf("бинарный ответ изменён: %q", rec.Body.String())
	}
	if rw.calls != 0 {
		t.Error("замена не должна вызываться для бинарных ответов")
	}
}

func TestUpstreamProxy_RewriteDisabled(t *testing.T) {
	u := newUpstream(t, "text/plain", "TG")
	proxy := NewUpstreamProxy(u, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Body.String() != "TG" {
		t.Errorf("тело = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Accept-Encoding") != "gzip" {
		t.Error("без замены Accept-Encoding передаётся как есть")
	}
}

func TestUpstreamProxy_Unavailable(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:1")
	proxy := NewUpstreamProxy(u, nil, testLogger())

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("статус = %d, ожидалось 502", rec.Code)
	}
}

func TestIsTextual(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"text/html; charset=utf-8", true},
		{"text/plain", true},
		{"application/json", true},
		{"application/rss+xml", true},
		{"image/jpeg", false},
		{"application/octet-stream", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isTextual(tt.ct); got != tt.want {
			t.Errorf("isTextual(%q) = %v, ожидалось %v", tt.ct, got, tt.want)
		}
	}
}

func TestRouter_UpstreamFallback(t *testing.T) {
	u := newUpstream(t, "text/plain", "host page TG")
	h := Handlers{Health: handlers.NewHealthHandler(nil, configured(true), nil)}
	router := NewRouter(h, RouterOptions{Upstream: NewUpstreamProxy(u, &upperRewriter{}, testLogger())})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/some/host/page", nil))
	if rec.Body.String() != "host page PROXY" {
		t.Errorf("тело = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health/live статус = %d", rec.Code)
	}
}

func TestRouter_NoUpstream(t *testing.T) {
	h := Handlers{Health: handlers.NewHealthHandler(nil, configured(true), nil)}
	router := NewRouter(h, RouterOptions{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидалось 404", rec.Code)
	}
}
