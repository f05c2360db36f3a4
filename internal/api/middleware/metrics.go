// metrics.go: Prometheus HTTP-метрики Telegram Proxy.
// Пути нормализуются, чтобы идентификаторы файлов не раздували кардинальность.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_http_requests_total",
			Help: "Общее количество HTTP-запросов к Telegram Proxy",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tp_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Telegram Proxy в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware собирает количество и длительность запросов по endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификаторы в пути на шаблон.
// /telegram-file/ABC → /telegram-file/{id}
// /api/v1/attachments/42 → /api/v1/attachments/{local_id}
// Прочие пути вне /api/v1 и служебных endpoint'ов (reverse proxy к хосту)
// сводятся к "other".
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/telegram-file/"):
		return "/telegram-file/{id}"
	case strings.HasPrefix(path, "/api/v1/attachments/"):
		return "/api/v1/attachments/{local_id}"
	case strings.HasPrefix(path, "/api/v1/"), isProbePath(path):
		return path
	default:
		return "other"
	}
}
