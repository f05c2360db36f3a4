// reconcile.go: массовая сверка записей вложений.
//
// Для каждой записи без идентификатора или без ссылки:
//   - назначается fallback-идентификатор, если remote_file_id пуст
//   - для настоящих file_id запрашивается свежая ссылка (getFile)
//
// Запускается по запросу (RunOnce) и, если задан интервал, фоновой
// горутиной с периодическим тикером (TP_RECONCILE_INTERVAL).
// Обращения к Telegram выполняются параллельно с ограничением
// TP_RECONCILE_CONCURRENCY.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/tgproxy/internal/domain/model"
	"github.com/bigkaa/tgproxy/internal/repository"
)

// reconcilePageSize: размер страницы при обходе хранилища.
const reconcilePageSize = 500

// Prometheus-метрики сверки.
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tp_reconcile_runs_total",
		Help: "Общее количество запусков сверки вложений.",
	})

	reconcileUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tp_reconcile_updated_total",
		Help: "Количество обновлённых при сверке вложений (по действию).",
	}, []string{"action"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tp_reconcile_duration_seconds",
		Help:    "Длительность сверки вложений в секундах.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileResult: итог одного прохода сверки.
type ReconcileResult struct {
	// Scanned: просмотрено записей
	Scanned int `json:"scanned"`
	// Updated: записей изменено
	Updated int `json:"updated"`
	// FallbackAssigned: назначено fallback-идентификаторов
	FallbackAssigned int `json:"fallback_assigned"`
	// URLsResolved: получено свежих ссылок
	URLsResolved int `json:"urls_resolved"`
	// Failed: записей, для которых не удалось получить ссылку
	Failed int `json:"failed"`
	// StartedAt, Duration: время запуска и длительность
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// ReconcileService: сверка записей вложений.
type ReconcileService struct {
	remote      RemoteStore
	repo        repository.AttachmentRepository
	cache       *CacheService
	interval    time.Duration
	concurrency int
	now         func() time.Time
	logger      *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	remote RemoteStore,
	repo repository.AttachmentRepository,
	cache *CacheService,
	interval time.Duration,
	concurrency int,
	logger *slog.Logger,
) *ReconcileService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReconcileService{
		remote:      remote,
		repo:        repo,
		cache:       cache,
		interval:    interval,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую сверку, если интервал > 0.
func (rs *ReconcileService) Start(ctx context.Context) {
	if rs.interval <= 0 {
		return
	}

	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Фоновая сверка запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		rs.logger.Info("Фоновая сверка остановлена")
	}
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := rs.RunOnce(ctx); err != nil {
				rs.logger.Error("Ошибка фоновой сверки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если проход уже выполняется, возвращает nil, true, nil.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		return nil, true, nil
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	reconcileRunsTotal.Inc()
	result := &ReconcileResult{StartedAt: rs.now().UTC()}
	start := time.Now()

	var updated, fallback, resolved, failed atomic.Int64

	for offset := 0; ; offset += reconcilePageSize {
		page, err := rs.repo.List(ctx, reconcilePageSize, offset)
		if err != nil {
			return nil, false, err
		}
		result.Scanned += len(page)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(rs.concurrency)
		for _, rec := range page {
			if rec.RemoteFileID != "" && rec.HasRemoteURL() {
				continue
			}
			g.Go(func() error {
				changed, action := rs.reconcileOne(gctx, rec)
				switch action {
				case "fallback":
					fallback.Add(1)
				case "resolved":
					resolved.Add(1)
				case "failed":
					failed.Add(1)
				}
				if changed {
					updated.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if len(page) < reconcilePageSize {
			break
		}
	}

	result.Updated = int(updated.Load())
	result.FallbackAssigned = int(fallback.Load())
	result.URLsResolved = int(resolved.Load())
	result.Failed = int(failed.Load())
	result.Duration = time.Since(start)
	reconcileDurationSeconds.Observe(result.Duration.Seconds())

	rs.logger.Info("Сверка вложений завершена",
		slog.Int("scanned", result.Scanned),
		slog.Int("updated", result.Updated),
		slog.Int("fallback_assigned", result.FallbackAssigned),
		slog.Int("urls_resolved", result.URLsResolved),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration),
	)

	return result, false, nil
}

// reconcileOne обрабатывает одну запись. Возвращает признак изменения и
// действие для статистики: fallback, resolved, failed или "".
func (rs *ReconcileService) reconcileOne(ctx context.Context, rec *model.Attachment) (bool, string) {
	action := ""

	if rec.RemoteFileID == "" {
		rec.RemoteFileID = model.FallbackID(rec.LocalID, rs.now())
		action = "fallback"
	} else if !rec.HasRemoteURL() && !rec.IsFallback() {
		fileURL, err := rs.remote.Resolve(ctx, rec.RemoteFileID)
		if err != nil {
			rs.logger.Warn("Не удалось получить ссылку при сверке",
				slog.String("local_id", rec.LocalID),
				slog.String("file_id", rec.RemoteFileID),
				slog.String("error", err.Error()),
			)
			return false, "failed"
		}
		rec.RemoteURL = fileURL
		action = "resolved"
	}

	if action == "" {
		return false, ""
	}

	if err := rs.repo.Put(ctx, rec); err != nil {
		rs.logger.Warn("Не удалось сохранить запись при сверке",
			slog.String("local_id", rec.LocalID),
			slog.String("error", err.Error()),
		)
		return false, "failed"
	}
	if rs.cache != nil {
		rs.cache.Set(rec)
	}
	reconcileUpdatedTotal.WithLabelValues(action).Inc()
	return true, action
}
