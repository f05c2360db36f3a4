// health.go: health endpoints для Kubernetes probes и Prometheus /metrics.
// /health/live: процесс жив
// /health/ready: хранилище метаданных доступно; Telegram и зависимости
// topologymetrics влияют только на degraded
package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/tgproxy/internal/config"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

const serviceName = "telegram-proxy"

// ReadinessChecker: проверка готовности хранилища метаданных.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// TelegramConfig сообщает, заданы ли токен бота и чат.
type TelegramConfig interface {
	Configured() bool
}

// DependencyHealth: состояние зависимостей (topologymetrics).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler: обработчик health endpoints.
type HealthHandler struct {
	store       ReadinessChecker
	telegram    TelegramConfig
	deps        DependencyHealth
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// store == nil: хранилище в памяти, всегда готово; deps может быть nil.
func NewHealthHandler(store ReadinessChecker, telegram TelegramConfig, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		store:       store,
		telegram:    telegram,
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks,omitempty"`
}

// HealthLive: liveness probe.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady: readiness probe. 503 только при недоступном хранилище.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]healthCheckResult{
		"storage":  h.checkStore(),
		"telegram": h.checkTelegram(),
	}
	if h.deps != nil {
		checks["dependencies"] = h.checkDependencies()
	}

	statuses := make([]string, 0, len(checks))
	for _, c := range checks {
		statuses = append(statuses, c.Status)
	}

	resp := healthResponse{
		Status:    overallStatus(statuses...),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    checks,
	}

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics: Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func (h *HealthHandler) checkStore() healthCheckResult {
	if h.store == nil {
		return healthCheckResult{Status: statusOK, Message: "хранилище в памяти"}
	}
	status, msg := h.store.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}

func (h *HealthHandler) checkTelegram() healthCheckResult {
	if h.telegram == nil || !h.telegram.Configured() {
		return healthCheckResult{Status: statusDegraded, Message: "токен бота или чат не заданы, загрузка недоступна"}
	}
	return healthCheckResult{Status: statusOK}
}

// checkDependencies: degraded, если хотя бы одна зависимость недоступна.
func (h *HealthHandler) checkDependencies() healthCheckResult {
	var failed []string
	for name, ok := range h.deps.Health() {
		if !ok {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return healthCheckResult{Status: statusOK}
	}
	sort.Strings(failed)
	return healthCheckResult{Status: statusDegraded, Message: "недоступны: " + strings.Join(failed, ", ")}
}

// overallStatus: fail, если есть fail; degraded, если есть degraded; иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
