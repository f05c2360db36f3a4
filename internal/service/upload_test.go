package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/tgproxy/internal/tgclient"
)

func TestUpload_JPEGRoundTrip(t *testing.T) {
	env := newTestEnv(t, testChat)
	env.srv.SetNextFileID("ABC123")

	content := testJPEG(t, 100, 80)
	path := writeFile(t, "photo.jpg", content)

	svc := NewUploadService(env.client, env.repo, env.cache, 0, testLogger())
	rec, err := svc.Upload(context.Background(), UploadParams{LocalID: "att-1", Path: path, DeclaredMime: "image/jpeg"})
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}

	if rec.RemoteFileID != "ABC123" {
		t.Errorf("RemoteFileID = %q, ожидалось ABC123", rec.RemoteFileID)
	}
	if rec.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, ожидалось image/jpeg", rec.MimeType)
	}
	if rec.Width == nil || rec.Height == nil || *rec.Width != 100 || *rec.Height != 80 {
		t.Errorf("размеры = %v×%v, ожидалось 100×80", rec.Width, rec.Height)
	}
	if rec.Size != int64(len(content)) {
		t.Errorf("Size = %d, ожидалось %d", rec.Size, len(content))
	}
	if rec.Filename != "photo.jpg" {
		t.Errorf("Filename = %q", rec.Filename)
	}
	if !rec.HasRemoteURL() {
		t.Error("ссылка на скачивание должна быть получена сразу после загрузки")
	}
	if fileExists(path) {
		t.Error("локальная копия должна быть удалена после загрузки")
	}
	if env.srv.Messages.Load() != 1 {
		t.Errorf("ожидалась одна проверка чата, получено %d", env.srv.Messages.Load())
	}

	stored, err := env.repo.Get(context.Background(), "att-1")
	if err != nil {
		t.Fatalf("запись не сохранена: %v", err)
	}
	if stored.RemoteURL != rec.RemoteURL {
		t.Errorf("сохранённая ссылка %q не совпадает с %q", stored.RemoteURL, rec.RemoteURL)
	}

	// GET /telegram-file/ABC123 отдаёт те же байты
	resolver := NewResolverService(env.client, env.repo, env.cache, testLogger())
	w := httptest.NewRecorder()
	if err := resolver.Serve(context.Background(), w, "ABC123"); err != nil {
		t.Fatalf("Serve() ошибка: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Errorf("статус = %d, ожидалось 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, ожидалось image/jpeg", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), content) {
		t.Error("отданное содержимое не совпадает с загруженным")
	}
}

func TestUpload_GeneratesLocalID(t *testing.T) {
	env := newTestEnv(t, testChat)
	path := writeFile(t, "notes.txt", []byte("plain text notes"))

	svc := NewUploadService(env.client, env.repo, nil, 0, testLogger())
	rec, err := svc.Upload(context.Background(), UploadParams{Path: path})
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if rec.LocalID == "" {
		t.Error("LocalID должен быть сгенерирован")
	}
	if rec.Width != nil || rec.Height != nil {
		t.Error("у текстового файла не должно быть размеров")
	}
	if !strings.HasPrefix(rec.MimeType, "text/plain") {
		t.Errorf("MimeType = %q", rec.MimeType)
	}
}

func TestUpload_NotConfigured(t *testing.T) {
	env := newTestEnv(t, "")
	path := writeFile(t, "a.txt", []byte("data"))

	svc := NewUploadService(env.client, env.repo, env.cache, 0, testLogger())
	_, err := svc.Upload(context.Background(), UploadParams{Path: path})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("ожидалась ErrConfig, получено: %v", err)
	}
	if !fileExists(path) {
		t.Error("локальный файл не должен удаляться при ошибке конфигурации")
	}
	if env.srv.Messages.Load() != 0 || env.srv.Uploads.Load() != 0 {
		t.Error("при ошибке конфигурации обращений к Telegram быть не должно")
	}
}

func TestUpload_FileErrors(t *testing.T) {
	env := newTestEnv(t, testChat)

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		maxSize int64
	}{
		{
			name: "файл не существует",
			path: func(t *testing.T) string { return t.TempDir() + "/missing.bin" },
		},
		{
			name: "пустой путь",
			path: func(t *testing.T) string { return "" },
		},
		{
			name: "пустой файл",
			path: func(t *testing.T) string { return writeFile(t, "empty.bin", nil) },
		},
		{
			name:    "превышен лимит",
			path:    func(t *testing.T) string { return writeFile(t, "big.bin", bytes.Repeat([]byte("x"), 64)) },
			maxSize: 10,
		},
		{
			name: "каталог",
			path: func(t *testing.T) string { return t.TempDir() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewUploadService(env.client, env.repo, env.cache, tt.maxSize, testLogger())
			path := tt.path(t)

			_, err := svc.Upload(context.Background(), UploadParams{Path: path})
			var fileErr *FileError
			if !errors.As(err, &fileErr) {
				t.Fatalf("ожидалась FileError, получено: %v", err)
			}
		})
	}

	if env.srv.Uploads.Load() != 0 {
		t.Error("при ошибке файла загрузки быть не должно")
	}
}

func TestUpload_TooLargeKeepsFile(t *testing.T) {
	env := newTestEnv(t, testChat)
	path := writeFile(t, "big.bin", bytes.Repeat([]byte("x"), 64))

	svc := NewUploadService(env.client, env.repo, env.cache, 10, testLogger())
	if _, err := svc.Upload(context.Background(), UploadParams{Path: path}); err == nil {
		t.Fatal("ожидалась ошибка размера")
	}
	if !fileExists(path) {
		t.Error("слишком большой файл не должен удаляться")
	}
}

func TestUpload_ProbeFailureAborts(t *testing.T) {
	env := newTestEnv(t, "-999") // чат, которого нет
	path := writeFile(t, "a.txt", []byte("data"))

	svc := NewUploadService(env.client, env.repo, env.cache, 0, testLogger())
	_, err := svc.Upload(context.Background(), UploadParams{Path: path})

	var apiErr *tgclient.RemoteAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ожидалась RemoteAPIError, получено: %v", err)
	}
	if env.srv.Uploads.Load() != 0 {
		t.Error("после неудачной проверки чата sendDocument не вызывается")
	}
	if !fileExists(path) {
		t.Error("локальный файл должен остаться")
	}
	if n, _ := env.repo.Count(context.Background()); n != 0 {
		t.Errorf("записей = %d, ожидалось 0", n)
	}
}

func TestUpload_RemoteFailureKeepsFile(t *testing.T) {
	env := newTestEnv(t, testChat)
	env.srv.FailUpload.Store(true)
	path := writeFile(t, "a.txt", []byte("data"))

	svc := NewUploadService(env.client, env.repo, env.cache, 0, testLogger())
	if _, err := svc.Upload(context.Background(), UploadParams{LocalID: "att-1", Path: path}); err == nil {
		t.Fatal("ожидалась ошибка загрузки")
	}
	if !fileExists(path) {
		t.Error("локальный файл должен остаться при ошибке Telegram")
	}
	if n, _ := env.repo.Count(context.Background()); n != 0 {
		t.Errorf("записей = %d, ожидалось 0", n)
	}
}

func TestUpload_ResolveFailureIsSoft(t *testing.T) {
	env := newTestEnv(t, testChat)
	env.srv.SetNextFileID("LAZY1")
	env.srv.FailGetFile.Store(true)
	path := writeFile(t, "a.txt", []byte("lazy content"))

	svc := NewUploadService(env.client, env.repo, env.cache, 0, testLogger())
	rec, err := svc.Upload(context.Background(), UploadParams{LocalID: "att-lazy", Path: path})
	if err != nil {
		t.Fatalf("ошибка getFile не должна прерывать загрузку: %v", err)
	}
	if rec.HasRemoteURL() {
		t.Error("ссылка не должна быть заполнена при ошибке getFile")
	}
	if fileExists(path) {
		t.Error("локальная копия должна быть удалена: file_id уже получен")
	}

	resolver := NewResolverService(env.client, env.repo, env.cache, testLogger())

	// Пока getFile недоступен, proxy отвечает 404
	err = resolver.Serve(context.Background(), httptest.NewRecorder(), "LAZY1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено: %v", err)
	}

	// Ссылка заполняется при первом успешном запросе
	env.srv.FailGetFile.Store(false)
	w := httptest.NewRecorder()
	if err := resolver.Serve(context.Background(), w, "LAZY1"); err != nil {
		t.Fatalf("Serve() ошибка: %v", err)
	}
	if w.Body.String() != "lazy content" {
		t.Errorf("тело = %q", w.Body.String())
	}
	stored, _ := env.repo.Get(context.Background(), "att-lazy")
	if !stored.HasRemoteURL() {
		t.Error("ссылка должна быть сохранена после обновления")
	}
}
