// dephealth.go: интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Telegram Proxy мониторит:
//   - Telegram Bot API: HTTP checker (non-critical: уже загруженные файлы
//     с живыми ссылками продолжают отдаваться)
//   - PostgreSQL: SQL checker через существующий pgxpool (critical),
//     только при TP_STORE=postgres
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health: состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds: задержка проверки
//   - app_dependency_status: категория статуса
//   - app_dependency_status_detail: детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthParams: параметры мониторинга зависимостей.
type DephealthParams struct {
	// ServiceID: имя вершины графа текущего приложения
	ServiceID string
	// Group: имя группы в метриках (TP_DEPHEALTH_GROUP)
	Group string
	// TelegramURL: базовый URL Bot API
	TelegramURL string
	// TelegramHealthPath: путь HTTP-проверки Bot API
	TelegramHealthPath string
	// DB: *sql.DB из pgxpool (nil: PostgreSQL не мониторится)
	DB *sql.DB
	// PGConnURL: URL PostgreSQL для лейблов метрик
	PGConnURL string
	// CheckInterval: интервал проверки (TP_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
}

// DephealthService: сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(p DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(p, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	p DephealthParams,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(p, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(p DephealthParams, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	healthPath := p.TelegramHealthPath
	if healthPath == "" {
		healthPath = "/"
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP("telegram-api",
			dephealth.FromURL(p.TelegramURL),
			dephealth.WithHTTPHealthPath(healthPath),
			dephealth.CheckInterval(p.CheckInterval),
			dephealth.Critical(false),
		),
	}

	if p.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(p.DB)),
			dephealth.FromURL(p.PGConnURL),
			dephealth.CheckInterval(p.CheckInterval),
			dephealth.Critical(true),
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(p.ServiceID, p.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ: имя зависимости, значение: true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
