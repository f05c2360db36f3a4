package middleware

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/tgproxy/internal/api/openapi"
)

func newTestValidator(t *testing.T) func(http.Handler) http.Handler {
	t.Helper()
	v, err := NewRequestValidator(openapi.Spec, testLogger())
	if err != nil {
		t.Fatalf("NewRequestValidator() ошибка: %v", err)
	}
	return v.Middleware()
}

func TestRequestValidator(t *testing.T) {
	mw := newTestValidator(t)

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		want        int
	}{
		{"валидный JSON", http.MethodPost, "/api/v1/rewrite/content", "application/json", `{"content":"текст"}`, http.StatusOK},
		{"нет обязательного поля", http.MethodPost, "/api/v1/uploads/local", "application/json", `{"local_id":"1"}`, http.StatusBadRequest},
		{"неверный тип поля", http.MethodPost, "/api/v1/rewrite/attributes", "application/json", `{"attributes":{"src":1}}`, http.StatusBadRequest},
		{"нет тела", http.MethodPost, "/api/v1/maintenance/test-file", "application/json", ``, http.StatusBadRequest},
		{"чужой Content-Type", http.MethodPost, "/api/v1/rewrite/content", "text/plain", `content`, http.StatusBadRequest},
		{"маршрут вне контракта", http.MethodGet, "/telegram-file/ABC", "", ``, http.StatusOK},
		{"неизвестный путь API", http.MethodGet, "/api/v1/unknown", "", ``, http.StatusOK},
		{"GET без тела", http.MethodGet, "/api/v1/attachments/42", "", ``, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var bodyRead string
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				buf := new(bytes.Buffer)
				_, _ = buf.ReadFrom(r.Body)
				bodyRead = buf.String()
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("статус = %d, ожидался %d, тело: %s", rec.Code, tt.want, rec.Body.String())
			}
			if rec.Code == http.StatusOK && bodyRead != tt.body {
				t.Errorf("handler получил тело %q, ожидалось %q", bodyRead, tt.body)
			}
			if rec.Code == http.StatusBadRequest {
				var resp map[string]map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["error"]["code"] != "VALIDATION_ERROR" {
					t.Errorf("ожидался конверт VALIDATION_ERROR, получено: %s", rec.Body.String())
				}
			}
		})
	}
}

func TestRequestValidator_MultipartBodyNotBuffered(t *testing.T) {
	mw := newTestValidator(t)

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	part, _ := mpw.CreateFormFile("file", "a.txt")
	_, _ = part.Write([]byte("data"))
	_ = mpw.Close()

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("тело multipart повреждено: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusCreated {
		t.Errorf("multipart-запрос должен дойти до handler, статус %d: %s", rec.Code, rec.Body.String())
	}
}
