// settings.go: проверка настроек Telegram и инструменты обслуживания.
//
// POST /api/v1/settings/validate: проверка пары (токен, чат) до применения
// POST /api/v1/maintenance/test-chat: тестовое сообщение в текущий чат
// POST /api/v1/maintenance/test-file: проверка file_id
// POST /api/v1/maintenance/reconcile: сверка всех записей вложений
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/tgproxy/internal/api/errors"
	"github.com/bigkaa/tgproxy/internal/api/middleware"
	"github.com/bigkaa/tgproxy/internal/service"
)

// ReconcileRunner: запуск сверки. Позволяет тестировать handler без
// полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет проход; skipped == true, если проход уже идёт.
	RunOnce(ctx context.Context) (result *service.ReconcileResult, skipped bool, err error)
}

// SettingsHandler: проверка настроек и обслуживание.
type SettingsHandler struct {
	settings   *service.SettingsService
	reconciler ReconcileRunner
	urls       ProxyURLBuilder
	logger     *slog.Logger
}

// NewSettingsHandler создаёт обработчик настроек и обслуживания.
func NewSettingsHandler(
	settings *service.SettingsService,
	reconciler ReconcileRunner,
	urls ProxyURLBuilder,
	logger *slog.Logger,
) *SettingsHandler {
	return &SettingsHandler{
		settings:   settings,
		reconciler: reconciler,
		urls:       urls,
		logger:     logger.With(slog.String("component", "settings_handler")),
	}
}

// ValidateSettings: POST /api/v1/settings/validate.
// Всегда 200: ошибки полей возвращаются в теле.
func (h *SettingsHandler) ValidateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BotToken string `json:"bot_token"`
		ChatID   string `json:"chat_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.settings.Validate(r.Context(), req.BotToken, req.ChatID))
}

// TestChat: POST /api/v1/maintenance/test-chat.
func (h *SettingsHandler) TestChat(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.TestChat(r.Context()); err != nil {
		writeServiceError(w, h.logger, "Ошибка отправки тестового сообщения", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// TestFile: POST /api/v1/maintenance/test-file.
func (h *SettingsHandler) TestFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID string `json:"file_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.settings.TestFile(r.Context(), req.FileID)
	if err != nil {
		writeServiceError(w, h.logger, "Ошибка проверки file_id", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status     string             `json:"status"`
		Attachment attachmentResponse `json:"attachment"`
	}{
		Status:     result.Status,
		Attachment: newAttachmentResponse(result.Attachment, h.urls),
	})
}

// Reconcile: POST /api/v1/maintenance/reconcile.
// Синхронный проход; если проход уже идёт: 409 RECONCILE_IN_PROGRESS.
func (h *SettingsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Запрошена сверка вложений",
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)

	result, skipped, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "Ошибка сверки вложений", err)
		return
	}
	if skipped {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
