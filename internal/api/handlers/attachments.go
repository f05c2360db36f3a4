package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/tgproxy/internal/api/errors"
	"github.com/bigkaa/tgproxy/internal/repository"
)

// AttachmentsHandler: чтение записей вложений.
type AttachmentsHandler struct {
	repo   repository.AttachmentRepository
	urls   ProxyURLBuilder
	logger *slog.Logger
}

// NewAttachmentsHandler создаёт обработчик записей вложений.
func NewAttachmentsHandler(repo repository.AttachmentRepository, urls ProxyURLBuilder, logger *slog.Logger) *AttachmentsHandler {
	return &AttachmentsHandler{
		repo:   repo,
		urls:   urls,
		logger: logger.With(slog.String("component", "attachments_handler")),
	}
}

// GetAttachment: GET /api/v1/attachments/{local_id}.
func (h *AttachmentsHandler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	localID := chi.URLParam(r, "local_id")

	rec, err := h.repo.Get(r.Context(), localID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Вложение не найдено: "+localID)
			return
		}
		h.logger.Error("Ошибка чтения вложения",
			slog.String("local_id", localID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения вложения")
		return
	}

	writeJSON(w, http.StatusOK, newAttachmentResponse(rec, h.urls))
}
