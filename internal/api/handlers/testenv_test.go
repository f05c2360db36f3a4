package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/tgproxy/internal/repository"
	"github.com/bigkaa/tgproxy/internal/service"
	"github.com/bigkaa/tgproxy/internal/tgclient"
	"github.com/bigkaa/tgproxy/internal/tgclient/tgtest"
)

const (
	testToken  = "123:TEST"
	testChat   = "-1001"
	testPublic = "https://proxy.example"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubReconciler: ReconcileRunner с фиксированным ответом.
type stubReconciler struct {
	result  *service.ReconcileResult
	skipped bool
	err     error
	calls   int
}

func (s *stubReconciler) RunOnce(context.Context) (*service.ReconcileResult, bool, error) {
	s.calls++
	return s.result, s.skipped, s.err
}

// testAPI: обработчики поверх поддельного Bot API и хранилища в памяти.
type testAPI struct {
	srv        *tgtest.Server
	repo       *repository.MemoryStore
	reconciler *stubReconciler
	router     http.Handler
}

// newTestAPI собирает маршруты /api/v1 и /telegram-file; chat пустой -
// Telegram не сконфигурирован.
func newTestAPI(t *testing.T, chat string, maxFileSize int64) *testAPI {
	t.Helper()

	srv := tgtest.NewServer(testToken, testChat)
	t.Cleanup(srv.Close)

	logger := testLogger()
	client := tgclient.New(tgclient.Config{
		APIURL:  srv.APIURL(),
		FileURL: srv.FileURL(),
		Token:   testToken,
		ChatID:  chat,
		Timeout: 5 * time.Second,
	}, logger)

	repo, err := repository.NewMemoryStore("", logger)
	if err != nil {
		t.Fatalf("NewMemoryStore() ошибка: %v", err)
	}
	cache := service.NewCacheService(100, time.Minute)

	upload := service.NewUploadService(client, repo, cache, maxFileSize, logger)
	rw := service.NewRewriter(repo, srv.FileURL(), testPublic, logger)
	resolver := service.NewResolverService(client, repo, cache, logger)
	settings := service.NewSettingsService(client, repo, resolver, logger)
	reconciler := &stubReconciler{result: &service.ReconcileResult{}}

	proxyH := NewProxyHandler(resolver, logger)
	uploadsH := NewUploadsHandler(upload, rw, t.TempDir(), maxFileSize, logger)
	attachmentsH := NewAttachmentsHandler(repo, rw, logger)
	rewriteH := NewRewriteHandler(rw, logger)
	settingsH := NewSettingsHandler(settings, reconciler, rw, logger)

	r := chi.NewRouter()
	r.Get("/telegram-file/{id}", proxyH.ServeFile)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/uploads", uploadsH.UploadFile)
		r.Post("/uploads/local", uploadsH.UploadLocal)
		r.Get("/attachments/{local_id}", attachmentsH.GetAttachment)
		r.Post("/rewrite/url", rewriteH.RewriteURL)
		r.Post("/rewrite/image-src", rewriteH.RewriteImageSrc)
		r.Post("/rewrite/attributes", rewriteH.RewriteAttributes)
		r.Post("/rewrite/html", rewriteH.RewriteHTML)
		r.Post("/rewrite/content", rewriteH.RewriteContent)
		r.Post("/settings/validate", settingsH.ValidateSettings)
		r.Post("/maintenance/test-chat", settingsH.TestChat)
		r.Post("/maintenance/test-file", settingsH.TestFile)
		r.Post("/maintenance/reconcile", settingsH.Reconcile)
	})

	return &testAPI{srv: srv, repo: repo, reconciler: reconciler, router: r}
}

// do выполняет запрос к роутеру.
func (a *testAPI) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// postJSON отправляет JSON-тело.
func (a *testAPI) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return a.do(t, http.MethodPost, path, data, "application/json")
}

// decodeBody разбирает JSON-ответ.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("ответ не JSON: %v, тело: %s", err, rec.Body.String())
	}
}

// errorCode извлекает код из конверта ошибки.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &env)
	return env.Error.Code
}
