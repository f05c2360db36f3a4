// handler.go: общие помощники HTTP-обработчиков: JSON-ответы, разбор тела
// и отображение ошибок сервисного слоя в HTTP-статусы.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/tgproxy/internal/api/errors"
	"github.com/bigkaa/tgproxy/internal/domain/model"
	"github.com/bigkaa/tgproxy/internal/repository"
	"github.com/bigkaa/tgproxy/internal/service"
	"github.com/bigkaa/tgproxy/internal/tgclient"
)

// maxJSONBody: лимит JSON-тела (текст документа для замены ссылок).
const maxJSONBody = 8 << 20

// attachmentResponse: запись вложения с proxy-ссылкой.
type attachmentResponse struct {
	*model.Attachment
	ProxyURL string `json:"proxy_url,omitempty"`
}

// ProxyURLBuilder строит внешнюю proxy-ссылку по идентификатору файла.
type ProxyURLBuilder interface {
	ProxyURL(remoteFileID string) string
}

func newAttachmentResponse(a *model.Attachment, urls ProxyURLBuilder) attachmentResponse {
	resp := attachmentResponse{Attachment: a}
	if a.RemoteFileID != "" {
		resp.ProxyURL = urls.ProxyURL(a.RemoteFileID)
	}
	return resp
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает JSON-тело запроса в dst.
// При ошибке пишет 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.CodeValidationError,
				fmt.Sprintf("Тело запроса больше %d байт", maxErr.Limit))
		case errors.Is(err, io.EOF):
			apierrors.ValidationError(w, "Пустое тело запроса")
		default:
			apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		}
		return false
	}
	return true
}

// writeServiceError отображает ошибку сервисного слоя в ответ API.
// op: описание операции для лога.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var (
		fileErr      *service.FileError
		remoteErr    *tgclient.RemoteAPIError
		transportErr *tgclient.TransportError
	)

	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrConfig):
		apierrors.ConfigError(w, "Не заданы токен бота или идентификатор чата Telegram")
	case errors.As(err, &fileErr):
		apierrors.FileError(w, fileErr.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrUpstream):
		logger.Warn(op, slog.String("error", err.Error()))
		apierrors.UpstreamError(w, "Не удалось получить файл из Telegram")
	case errors.As(err, &remoteErr):
		logger.Warn(op, slog.String("error", err.Error()))
		apierrors.RemoteError(w, remoteErr.Message())
	case errors.As(err, &transportErr):
		logger.Warn(op, slog.String("error", err.Error()))
		apierrors.RemoteError(w, "Telegram недоступен: "+transportErr.Err.Error())
	default:
		logger.Error(op, slog.String("error", err.Error()))
		apierrors.InternalError(w, op)
	}
}
