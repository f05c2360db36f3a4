// uploads.go: загрузка файлов в Telegram.
//
// POST /api/v1/uploads: multipart (file, local_id). Файл потоково
// сохраняется во временный файл в TP_UPLOAD_DIR и передаётся в конвейер;
// при ошибке временная копия удаляется.
// POST /api/v1/uploads/local: файл уже лежит на диске хоста; при ошибке
// он остаётся на месте для повторной попытки.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	apierrors "github.com/bigkaa/tgproxy/internal/api/errors"
	"github.com/bigkaa/tgproxy/internal/service"
)

// maxFieldSize: лимит текстового поля multipart.
const maxFieldSize = 1 << 10

// UploadsHandler: обработчик загрузок.
type UploadsHandler struct {
	upload      *service.UploadService
	urls        ProxyURLBuilder
	uploadDir   string
	maxFileSize int64
	logger      *slog.Logger
}

// NewUploadsHandler создаёт обработчик загрузок.
// maxFileSize <= 0 заменяется на лимит Telegram.
func NewUploadsHandler(
	upload *service.UploadService,
	urls ProxyURLBuilder,
	uploadDir string,
	maxFileSize int64,
	logger *slog.Logger,
) *UploadsHandler {
	if maxFileSize <= 0 || maxFileSize > service.MaxFileSize {
		maxFileSize = service.MaxFileSize
	}
	return &UploadsHandler{
		upload:      upload,
		urls:        urls,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "uploads_handler")),
	}
}

// uploadLocalRequest: тело POST /api/v1/uploads/local.
type uploadLocalRequest struct {
	LocalID  string `json:"local_id"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}

// UploadLocal: POST /api/v1/uploads/local.
func (h *UploadsHandler) UploadLocal(w http.ResponseWriter, r *http.Request) {
	var req uploadLocalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		apierrors.ValidationError(w, "Не задан путь к файлу")
		return
	}

	rec, err := h.upload.Upload(r.Context(), service.UploadParams{
		LocalID:      req.LocalID,
		Path:         req.Path,
		DeclaredMime: req.MimeType,
		Filename:     req.Filename,
	})
	if err != nil {
		writeServiceError(w, h.logger, "Ошибка загрузки файла в Telegram", err)
		return
	}

	writeJSON(w, http.StatusCreated, newAttachmentResponse(rec, h.urls))
}

// stagedFile: multipart-файл, сохранённый на диск.
type stagedFile struct {
	path         string
	filename     string
	declaredMime string
}

// UploadFile: POST /api/v1/uploads.
func (h *UploadsHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Запас на заголовки частей и текстовые поля
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return
	}

	var (
		localID string
		staged  *stagedFile
	)
	defer func() {
		if staged != nil {
			_ = os.Remove(staged.path)
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.writeReadError(w, err)
			return
		}

		switch part.FormName() {
		case "local_id":
			value, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			if err != nil {
				h.writeReadError(w, err)
				return
			}
			localID = strings.TrimSpace(string(value))
		case "file":
			if staged != nil {
				apierrors.ValidationError(w, "Допускается только один файл")
				return
			}
			staged, err = h.stage(part)
			if err != nil {
				h.writeReadError(w, err)
				return
			}
		}
		_ = part.Close()
	}

	if staged == nil {
		apierrors.ValidationError(w, "Отсутствует поле file")
		return
	}

	rec, err := h.upload.Upload(r.Context(), service.UploadParams{
		LocalID:      localID,
		Path:         staged.path,
		DeclaredMime: staged.declaredMime,
		Filename:     staged.filename,
	})
	if err != nil {
		writeServiceError(w, h.logger, "Ошибка загрузки файла в Telegram", err)
		return
	}

	writeJSON(w, http.StatusCreated, newAttachmentResponse(rec, h.urls))
}

// stage сохраняет часть multipart во временный файл.
// Файл больше лимита отклоняется errFileTooLarge.
func (h *UploadsHandler) stage(part *multipart.Part) (*stagedFile, error) {
	tmp, err := os.CreateTemp(h.uploadDir, "tp-upload-*")
	if err != nil {
		return nil, fmt.Errorf("создание временного файла: %w", err)
	}

	staged := &stagedFile{
		path:         tmp.Name(),
		filename:     part.FileName(),
		declaredMime: part.Header.Get("Content-Type"),
	}

	written, err := io.Copy(tmp, io.LimitReader(part, h.maxFileSize+1))
	closeErr := tmp.Close()
	switch {
	case err != nil:
	case closeErr != nil:
		err = closeErr
	case written > h.maxFileSize:
		err = errFileTooLarge
	}
	if err != nil {
		_ = os.Remove(staged.path)
		return nil, err
	}
	return staged, nil
}

var errFileTooLarge = errors.New("файл превышает лимит")

func (h *UploadsHandler) writeReadError(w http.ResponseWriter, err error) {
	var (
		maxErr  *http.MaxBytesError
		pathErr *os.PathError
	)
	if errors.Is(err, errFileTooLarge) || errors.As(err, &maxErr) {
		apierrors.FileTooLarge(w, fmt.Sprintf("Файл превышает лимит %d байт", h.maxFileSize))
		return
	}
	if errors.As(err, &pathErr) {
		h.logger.Error("Ошибка сохранения временного файла", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка сохранения временного файла")
		return
	}
	h.logger.Warn("Ошибка чтения multipart", slog.String("error", err.Error()))
	apierrors.ValidationError(w, "Ошибка чтения multipart: "+err.Error())
}
