package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/telegram-file/ABC123", "/telegram-file/{id}"},
		{"/telegram-file/fallback_42_1700000000", "/telegram-file/{id}"},
		{"/api/v1/attachments/42", "/api/v1/attachments/{local_id}"},
		{"/api/v1/rewrite/content", "/api/v1/rewrite/content"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/blog/2024/hello-world", "other"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}

func TestResponseWriter_CapturesStatusAndSize(t *testing.T) {
	handler := RequestLogger(testLogger())(MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("12345"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telegram-file/X", nil))

	if rec.Code != http.StatusTeapot || rec.Body.String() != "12345" {
		t.Errorf("обёртки не должны менять ответ: %d %q", rec.Code, rec.Body.String())
	}

	w := newResponseWriter(httptest.NewRecorder())
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("abc"))
	if w.statusCode != http.StatusNotFound || w.written != 3 {
		t.Errorf("statusCode=%d written=%d", w.statusCode, w.written)
	}
}
