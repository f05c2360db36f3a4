// deadline.go: продление дедлайнов соединения для передачи файлов.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// TransferDeadline заменяет серверные ReadTimeout/WriteTimeout для
// маршрутов с телом файла (upload, streaming из Telegram): дедлайны
// чтения и записи сдвигаются на now+d. d <= 0 снимает их совсем.
// ResponseWriter без поддержки дедлайнов (httptest) пропускается.
func TransferDeadline(d time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "transfer_deadline"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var deadline time.Time
			if d > 0 {
				deadline = time.Now().Add(d)
			}
			rc := http.NewResponseController(w)
			if err := rc.SetReadDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
				log.Warn("Дедлайн чтения не продлён", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
			}
			if err := rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
				log.Warn("Дедлайн записи не продлён", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
			}
			next.ServeHTTP(w, r)
		})
	}
}
