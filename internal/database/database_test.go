package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/tgproxy/internal/config"
	"github.com/bigkaa/tgproxy/internal/domain/model"
	"github.com/bigkaa/tgproxy/internal/repository"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("tgproxy_test"),
		postgres.WithUsername("tgproxy"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("TP_STORE", "postgres")
	t.Setenv("TP_DB_HOST", host)
	t.Setenv("TP_DB_PORT", port.Port())
	t.Setenv("TP_DB_NAME", "tgproxy_test")
	t.Setenv("TP_DB_USER", "tgproxy")
	t.Setenv("TP_DB_PASSWORD", "test-password")
	t.Setenv("TP_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'attachments'
		)`).Scan(&exists)
	if err != nil {
		t.Fatalf("Ошибка проверки таблицы: %v", err)
	}
	if !exists {
		t.Error("Таблица attachments не создана")
	}

	status, msg := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() = %q, %q; ожидали ok", status, msg)
	}
}

// TestPostgresRepository проверяет upsert и вторичные индексы на реальной БД.
func TestPostgresRepository(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.Default()
	ctx := context.Background()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	repo := repository.NewPostgresRepository(pool)
	w, h := 640, 480
	a := &model.Attachment{
		LocalID:      "42",
		RemoteFileID: "ABC123",
		RemoteURL:    "https://api.telegram.org/file/bot1:T/photos/file_1.jpg",
		Width:        &w,
		Height:       &h,
		MimeType:     "image/jpeg",
	}
	if err := repo.Put(ctx, a); err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}
	if a.CreatedAt.IsZero() {
		t.Error("Put() не заполнил CreatedAt")
	}

	got, err := repo.FindByRemoteFileID(ctx, "ABC123")
	if err != nil {
		t.Fatalf("FindByRemoteFileID() ошибка: %v", err)
	}
	if got.LocalID != "42" || got.Width == nil || *got.Width != 640 {
		t.Errorf("неожиданная запись: %+v", got)
	}

	got, err = repo.FindByURLFragment(ctx, "photos/file_1.jpg")
	if err != nil {
		t.Fatalf("FindByURLFragment() ошибка: %v", err)
	}
	if got.LocalID != "42" {
		t.Errorf("LocalID = %q", got.LocalID)
	}

	// Перезапись: последняя запись побеждает, индексы обновляются
	a.RemoteURL = ""
	if err := repo.Put(ctx, a); err != nil {
		t.Fatalf("повторный Put() ошибка: %v", err)
	}
	if _, err := repo.FindByURLFragment(ctx, "photos/file_1.jpg"); err != repository.ErrNotFound {
		t.Errorf("ожидалась ErrNotFound после очистки remote_url, получено: %v", err)
	}

	n, err := repo.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count() = %d, %v; ожидали 1", n, err)
	}
}
