// upload.go: конвейер загрузки локального файла в Telegram.
//
// Порядок шагов фиксирован:
//  1. Проверка конфигурации (токен, чат)
//  2. Проверка файла (существует, читается, не больше лимита)
//  3. Определение MIME по содержимому
//  4. Размеры изображения (не критично)
//  5. Проверка чата (Probe), ошибка прерывает загрузку
//  6. sendDocument, запись метаданных, удаление локальной копии
//  7. getFile, ошибка не критична: ссылка будет получена при первом запросе
//
// Локальный файл удаляется только после того, как Telegram вернул file_id
// и запись сохранена. При любой ошибке файл остаётся на месте.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // декодер размеров GIF
	_ "image/jpeg" // декодер размеров JPEG
	_ "image/png"  // декодер размеров PNG
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/tgproxy/internal/domain/model"
	"github.com/bigkaa/tgproxy/internal/repository"
	"github.com/bigkaa/tgproxy/internal/tgclient"
)

// MaxFileSize: потолок Telegram для sendDocument (2 GiB).
const MaxFileSize int64 = 2 << 30

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tp_uploads_total",
		Help: "Общее количество загрузок в Telegram (по статусу).",
	}, []string{"status"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tp_upload_duration_seconds",
		Help:    "Длительность конвейера загрузки.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tp_upload_bytes_total",
		Help: "Общее количество байт, загруженных в Telegram.",
	})
)

// UploadParams: входные данные конвейера.
type UploadParams struct {
	// LocalID: идентификатор вложения в хосте (пусто: сгенерировать UUID)
	LocalID string
	// Path: путь к локальному файлу
	Path string
	// DeclaredMime: MIME, заявленный клиентом (только для логов)
	DeclaredMime string
	// Filename: исходное имя файла (пусто: базовое имя Path)
	Filename string
}

// UploadService: конвейер загрузки файлов в Telegram.
type UploadService struct {
	remote      RemoteStore
	repo        repository.AttachmentRepository
	cache       *CacheService
	maxFileSize int64
	logger      *slog.Logger
}

// NewUploadService создаёт конвейер загрузки.
// maxFileSize <= 0 или больше 2 GiB заменяется на 2 GiB.
func NewUploadService(
	remote RemoteStore,
	repo repository.AttachmentRepository,
	cache *CacheService,
	maxFileSize int64,
	logger *slog.Logger,
) *UploadService {
	if maxFileSize <= 0 || maxFileSize > MaxFileSize {
		maxFileSize = MaxFileSize
	}
	return &UploadService{
		remote:      remote,
		repo:        repo,
		cache:       cache,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "upload_service")),
	}
}

// Upload выполняет конвейер для одного файла и возвращает сохранённую запись.
func (s *UploadService) Upload(ctx context.Context, p UploadParams) (*model.Attachment, error) {
	start := time.Now()

	// 1. Конфигурация
	if !s.remote.Configured() {
		uploadsTotal.WithLabelValues("config_error").Inc()
		return nil, ErrConfig
	}

	// 2. Файл
	size, err := s.checkFile(p.Path)
	if err != nil {
		uploadsTotal.WithLabelValues("file_error").Inc()
		return nil, err
	}

	// 3. MIME по содержимому
	mtype, err := mimetype.DetectFile(p.Path)
	if err != nil {
		uploadsTotal.WithLabelValues("file_error").Inc()
		return nil, &FileError{Path: p.Path, Reason: "не удалось определить тип файла", Err: err}
	}
	if p.DeclaredMime != "" && !mtype.Is(p.DeclaredMime) {
		s.logger.Debug("Заявленный MIME не совпадает с содержимым",
			slog.String("declared", p.DeclaredMime),
			slog.String("detected", mtype.String()),
		)
	}

	// 4. Размеры изображения
	width, height := imageDimensions(p.Path, mtype)

	// 5. Проверка чата
	if err := s.remote.Probe(ctx); err != nil {
		uploadsTotal.WithLabelValues("probe_error").Inc()
		return nil, fmt.Errorf("проверка чата перед загрузкой: %w", err)
	}

	filename := p.Filename
	if filename == "" {
		filename = filepath.Base(p.Path)
	}

	// 6. Загрузка
	fileID, err := s.remote.Upload(ctx, tgclient.UploadInput{
		Path:     p.Path,
		MimeType: mtype.String(),
		Filename: filename,
	})
	if err != nil {
		uploadsTotal.WithLabelValues("upload_error").Inc()
		return nil, fmt.Errorf("загрузка файла в Telegram: %w", err)
	}

	localID := p.LocalID
	if localID == "" {
		localID = uuid.NewString()
	}

	record := &model.Attachment{
		LocalID:      localID,
		RemoteFileID: fileID,
		Width:        width,
		Height:       height,
		MimeType:     mtype.String(),
		Filename:     filename,
		Size:         size,
	}
	if err := s.repo.Put(ctx, record); err != nil {
		uploadsTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("сохранение записи вложения: %w", err)
	}

	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Не удалось удалить локальную копию после загрузки",
			slog.String("path", p.Path),
			slog.String("error", err.Error()),
		)
	}

	// 7. Ссылка на скачивание (мягкая ошибка)
	s.prefetchURL(ctx, record)

	uploadsTotal.WithLabelValues("success").Inc()
	uploadDuration.Observe(time.Since(start).Seconds())
	uploadBytesTotal.Add(float64(size))

	s.logger.Info("Файл загружен в Telegram",
		slog.String("local_id", record.LocalID),
		slog.String("file_id", record.RemoteFileID),
		slog.String("mime_type", record.MimeType),
		slog.Int64("size", size),
		slog.Bool("url_resolved", record.HasRemoteURL()),
	)

	return record, nil
}

// checkFile проверяет, что файл существует, читается и укладывается в лимит.
func (s *UploadService) checkFile(path string) (int64, error) {
	if path == "" {
		return 0, &FileError{Path: path, Reason: "путь не задан"}
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, &FileError{Path: path, Reason: "файл не найден", Err: err}
	}
	if !info.Mode().IsRegular() {
		return 0, &FileError{Path: path, Reason: "не является обычным файлом"}
	}
	if info.Size() == 0 {
		return 0, &FileError{Path: path, Reason: "пустой файл"}
	}
	if info.Size() > s.maxFileSize {
		return 0, &FileError{
			Path:   path,
			Reason: fmt.Sprintf("размер %d превышает лимит %d байт", info.Size(), s.maxFileSize),
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, &FileError{Path: path, Reason: "файл не читается", Err: err}
	}
	_ = f.Close()

	return info.Size(), nil
}

// prefetchURL получает ссылку на скачивание сразу после загрузки.
// Ошибка только логируется: ссылка будет получена лениво при первом запросе.
func (s *UploadService) prefetchURL(ctx context.Context, record *model.Attachment) {
	fileURL, err := s.remote.Resolve(ctx, record.RemoteFileID)
	if err != nil {
		s.logger.Warn("Не удалось получить ссылку после загрузки",
			slog.String("file_id", record.RemoteFileID),
			slog.String("error", err.Error()),
		)
		return
	}

	record.RemoteURL = fileURL
	if err := s.repo.Put(ctx, record); err != nil {
		s.logger.Warn("Не удалось сохранить ссылку после загрузки",
			slog.String("file_id", record.RemoteFileID),
			slog.String("error", err.Error()),
		)
		record.RemoteURL = ""
		return
	}
	if s.cache != nil {
		s.cache.Set(record)
	}
}

// imageDimensions извлекает размеры JPEG, PNG и GIF. Для прочих типов и
// при ошибке декодирования возвращает nil, nil.
func imageDimensions(path string, mtype *mimetype.MIME) (*int, *int) {
	if !mtype.Is("image/jpeg") && !mtype.Is("image/png") && !mtype.Is("image/gif") {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, nil
	}
	w, h := cfg.Width, cfg.Height
	return &w, &h
}
