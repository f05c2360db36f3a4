// proxy.go: GET /telegram-file/{id}: отдача файла из Telegram по
// стабильной ссылке. Неизвестный id: 404, ошибка скачивания: 500.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/tgproxy/internal/api/errors"
	"github.com/bigkaa/tgproxy/internal/service"
)

// ProxyHandler: обработчик proxy-маршрута.
type ProxyHandler struct {
	resolver *service.ResolverService
	logger   *slog.Logger
}

// NewProxyHandler создаёт обработчик proxy-маршрута.
func NewProxyHandler(resolver *service.ResolverService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "proxy_handler")),
	}
}

// ServeFile обрабатывает GET /telegram-file/{id}.
func (h *ProxyHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.resolver.Serve(r.Context(), w, id)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Файл не найден")
	case errors.Is(err, service.ErrUpstream):
		h.logger.Warn("Ошибка получения файла из Telegram",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.UpstreamError(w, "Не удалось получить файл из Telegram")
	default:
		h.logger.Error("Ошибка разрешения файла",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка разрешения файла")
	}
}
