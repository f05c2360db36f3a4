// Пакет database: PostgreSQL-хранилище вложений при TP_STORE=postgres.
// Пул pgxpool, встроенные миграции golang-migrate, readiness-проверка.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/tgproxy/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pingTimeout ограничивает одну проверку доступности БД.
const pingTimeout = 3 * time.Second

// Connect открывает пул к PostgreSQL и сразу проверяет его ping'ом.
// При неудачном ping пул закрывается.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	log := logger.With(slog.String("component", "database"))

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("некорректный DSN PostgreSQL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("пул PostgreSQL не создан: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL %s:%d не отвечает: %w", cfg.DBHost, cfg.DBPort, err)
	}

	log.Info("PostgreSQL подключён",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// Migrate доводит схему до последней встроенной версии.
// Повторный вызов на актуальной схеме ничего не делает.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	log := logger.With(slog.String("component", "migrate"))

	dbURL, err := migrationURL(cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("встроенные миграции недоступны: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("golang-migrate не инициализирован: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{log: log}

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		log.Debug("Схема БД актуальна")
	case err != nil:
		return fmt.Errorf("миграции не применены: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("версия схемы не прочитана: %w", err)
	}
	log.Info("Схема БД готова",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// migrationURL переводит DSN pgx в URL драйвера pgx5 для golang-migrate.
func migrationURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("некорректный DSN PostgreSQL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql", "pgx5":
	default:
		return "", fmt.Errorf("неожиданная схема DSN %q", u.Scheme)
	}
	u.Scheme = "pgx5"
	return u.String(), nil
}

// migrateLogger направляет сообщения golang-migrate в slog.
type migrateLogger struct {
	log *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.log.Enabled(context.Background(), slog.LevelDebug)
}

// pinger: часть *pgxpool.Pool, нужная для readiness.
type pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecker отдаёт состояние PostgreSQL в /health/ready.
type ReadinessChecker struct {
	db      pinger
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности поверх пула.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return newReadinessChecker(pool, pingTimeout)
}

func newReadinessChecker(db pinger, timeout time.Duration) *ReadinessChecker {
	return &ReadinessChecker{db: db, timeout: timeout}
}

// CheckReady возвращает ("ok"|"fail", сообщение).
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		return "fail", "PostgreSQL недоступен: " + err.Error()
	}
	return "ok", "PostgreSQL отвечает"
}
