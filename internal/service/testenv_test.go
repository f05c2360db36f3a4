package service

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/tgproxy/internal/repository"
	"github.com/bigkaa/tgproxy/internal/tgclient"
	"github.com/bigkaa/tgproxy/internal/tgclient/tgtest"
)

const (
	testToken = "123:TEST"
	testChat  = "-1001"
)

// testLogger: логгер, подавляющий всё ниже ERROR.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv: поддельный Bot API, клиент и хранилище в памяти.
type testEnv struct {
	srv    *tgtest.Server
	client *tgclient.Client
	repo   *repository.MemoryStore
	cache  *CacheService
}

// newTestEnv создаёт окружение; chat пустой: клиент не сконфигурирован.
func newTestEnv(t *testing.T, chat string) *testEnv {
	t.Helper()

	srv := tgtest.NewServer(testToken, testChat)
	t.Cleanup(srv.Close)

	client := tgclient.New(tgclient.Config{
		APIURL:  srv.APIURL(),
		FileURL: srv.FileURL(),
		Token:   testToken,
		ChatID:  chat,
		Timeout: 5 * time.Second,
	}, testLogger())

	repo, err := repository.NewMemoryStore("", testLogger())
	if err != nil {
		t.Fatalf("NewMemoryStore() ошибка: %v", err)
	}

	return &testEnv{
		srv:    srv,
		client: client,
		repo:   repo,
		cache:  NewCacheService(100, time.Minute),
	}
}

// writeFile создаёт временный файл с содержимым.
func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("запись файла: %v", err)
	}
	return path
}

// testJPEG кодирует шумное изображение width×height (около 10 КБ для 100×80).
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	seed := uint32(7)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			seed = seed*1664525 + 1013904223
			img.Set(x, y, color.RGBA{R: uint8(seed >> 24), G: uint8(seed >> 16), B: uint8(seed >> 8), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("кодирование JPEG: %v", err)
	}
	return buf.Bytes()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
