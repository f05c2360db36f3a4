// resolver.go: разрешение proxy-запроса /telegram-file/{id} в поток байт.
//
// Конечный автомат по идентификатору id:
//   - Lookup: запись с remote_file_id == id (кэш, затем хранилище)
//   - найдена со ссылкой → Serve
//   - найдена без ссылки → Refresh: getFile(id), сохранить → Serve, иначе 404
//   - не найдена → Direct Resolve: getFile(id), создать запись → Serve, иначе 404
//   - Serve: streaming GET по ссылке; ошибка скачивания → 500 без повторного
//     разрешения в рамках запроса
//
// Если Telegram ответил на скачивание 401/403/404, ссылка считается
// протухшей и стирается у записи: следующий запрос пойдёт через Refresh.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/tgproxy/internal/domain/model"
	"github.com/bigkaa/tgproxy/internal/repository"
)

// CacheControl: заголовок кэширования proxy-ответа (1 год).
const CacheControl = "max-age=31536000"

// Prometheus-метрики proxy.
var (
	proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tp_proxy_requests_total",
		Help: "Общее количество proxy-запросов (по результату).",
	}, []string{"status"})

	proxyResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tp_proxy_resolve_total",
		Help: "Переходы автомата разрешения (cached, stored, refresh, direct, not_found).",
	}, []string{"path"})

	proxyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tp_proxy_duration_seconds",
		Help:    "Длительность proxy-запроса (от запроса до завершения streaming).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	proxyBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tp_proxy_bytes_total",
		Help: "Общее количество байт, отданных через proxy.",
	})

	activeProxyRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tp_active_proxy_requests",
		Help: "Количество активных proxy-запросов.",
	})
)

// ResolverService: разрешение идентификатора файла и отдача содержимого.
type ResolverService struct {
	remote RemoteStore
	repo   repository.AttachmentRepository
	cache  *CacheService
	group  singleflight.Group
	logger *slog.Logger
}

// NewResolverService создаёт сервис. cache может быть nil.
func NewResolverService(
	remote RemoteStore,
	repo repository.AttachmentRepository,
	cache *CacheService,
	logger *slog.Logger,
) *ResolverService {
	return &ResolverService{
		remote: remote,
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("component", "resolver")),
	}
}

// Resolve возвращает запись с непустой ссылкой или ErrNotFound.
// Параллельные запросы одного id объединяются; отменённый запрос
// получает ctx.Err(), не прерывая общий вызов.
func (s *ResolverService) Resolve(ctx context.Context, id string) (*model.Attachment, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	if s.cache != nil {
		if rec, ok := s.cache.Get(id); ok {
			proxyResolveTotal.WithLabelValues("cached").Inc()
			return rec, nil
		}
	}

	// Общий вызов не отменяется вместе с запросом, который его начал
	ch := s.group.DoChan(id, func() (any, error) {
		return s.resolve(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Attachment).Clone(), nil
	}
}

// resolve: Lookup → Refresh | Direct Resolve.
func (s *ResolverService) resolve(ctx context.Context, id string) (*model.Attachment, error) {
	rec, err := s.repo.FindByRemoteFileID(ctx, id)
	switch {
	case err == nil && rec.HasRemoteURL():
		proxyResolveTotal.WithLabelValues("stored").Inc()
		s.remember(rec)
		return rec, nil

	case err == nil:
		return s.refresh(ctx, rec)

	case errors.Is(err, repository.ErrNotFound):
		return s.direct(ctx, id)

	default:
		return nil, fmt.Errorf("поиск вложения %s: %w", id, err)
	}
}

// refresh получает новую ссылку для известной записи.
func (s *ResolverService) refresh(ctx context.Context, rec *model.Attachment) (*model.Attachment, error) {
	fileURL, err := s.remote.Resolve(ctx, rec.RemoteFileID)
	if err != nil {
		proxyResolveTotal.WithLabelValues("not_found").Inc()
		s.logger.Info("Не удалось обновить ссылку для вложения",
			slog.String("local_id", rec.LocalID),
			slog.String("file_id", rec.RemoteFileID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rec.RemoteFileID)
	}

	rec.RemoteURL = fileURL
	if err := s.repo.Put(ctx, rec); err != nil {
		s.logger.Warn("Не удалось сохранить обновлённую ссылку",
			slog.String("local_id", rec.LocalID),
			slog.String("error", err.Error()),
		)
	}

	proxyResolveTotal.WithLabelValues("refresh").Inc()
	s.remember(rec)
	return rec, nil
}

// direct разрешает идентификатор, которого нет в хранилище, и создаёт запись.
func (s *ResolverService) direct(ctx context.Context, id string) (*model.Attachment, error) {
	fileURL, err := s.remote.Resolve(ctx, id)
	if err != nil {
		proxyResolveTotal.WithLabelValues("not_found").Inc()
		s.logger.Debug("Идентификатор не найден ни локально, ни в Telegram",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rec := &model.Attachment{
		LocalID:      uuid.NewString(),
		RemoteFileID: id,
		RemoteURL:    fileURL,
	}
	if err := s.repo.Put(ctx, rec); err != nil {
		s.logger.Warn("Не удалось сохранить запись для нового идентификатора",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("Создана запись для идентификатора из Telegram",
			slog.String("local_id", rec.LocalID),
			slog.String("file_id", id),
		)
	}

	proxyResolveTotal.WithLabelValues("direct").Inc()
	s.remember(rec)
	return rec, nil
}

func (s *ResolverService) remember(rec *model.Attachment) {
	if s.cache != nil {
		s.cache.Set(rec)
	}
}

// Serve разрешает id и передаёт содержимое файла в w.
// Возвращает ErrNotFound (404) или ErrUpstream (500); после начала
// streaming ошибки только логируются.
func (s *ResolverService) Serve(ctx context.Context, w http.ResponseWriter, id string) error {
	start := time.Now()
	activeProxyRequests.Inc()
	defer activeProxyRequests.Dec()

	rec, err := s.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			proxyRequestsTotal.WithLabelValues("not_found").Inc()
		} else {
			proxyRequestsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	resp, err := s.remote.Download(ctx, rec.RemoteURL)
	if err != nil {
		proxyRequestsTotal.WithLabelValues("upstream_error").Inc()
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		proxyRequestsTotal.WithLabelValues("upstream_error").Inc()
		if isStaleStatus(resp.StatusCode) {
			s.invalidate(ctx, rec)
		}
		return fmt.Errorf("%w: Telegram вернул статус %d для %s", ErrUpstream, resp.StatusCode, id)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = rec.MimeType
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.Header().Set("Cache-Control", CacheControl)
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		// Заголовки уже отправлены, вернуть ошибку клиенту нельзя
		s.logger.Error("Ошибка streaming proxy",
			slog.String("file_id", id),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		proxyRequestsTotal.WithLabelValues("stream_error").Inc()
		return nil
	}

	duration := time.Since(start)
	proxyRequestsTotal.WithLabelValues("success").Inc()
	proxyDuration.Observe(duration.Seconds())
	proxyBytesTotal.Add(float64(written))

	s.logger.Debug("Proxy завершён",
		slog.String("file_id", id),
		slog.Int64("bytes", written),
		slog.Duration("duration", duration),
	)
	return nil
}

// invalidate стирает протухшую ссылку. У fallback-записей ссылку
// восстановить нельзя, поэтому они не меняются.
func (s *ResolverService) invalidate(ctx context.Context, rec *model.Attachment) {
	if s.cache != nil {
		s.cache.Delete(rec.RemoteFileID)
	}
	if rec.IsFallback() {
		return
	}

	rec.RemoteURL = ""
	if err := s.repo.Put(ctx, rec); err != nil {
		s.logger.Warn("Не удалось сбросить протухшую ссылку",
			slog.String("file_id", rec.RemoteFileID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("Ссылка на файл протухла и сброшена",
		slog.String("local_id", rec.LocalID),
		slog.String("file_id", rec.RemoteFileID),
	)
}

func isStaleStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound
}
