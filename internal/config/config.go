// Пакет config: загрузка и валидация конфигурации Telegram Proxy
// из переменных окружения (префикс TP_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые backend'ы хранилища метаданных.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// DefaultMaxFileSize: потолок размера файла для Telegram (2 GiB).
const DefaultMaxFileSize int64 = 2 << 30

// Config содержит все параметры конфигурации Telegram Proxy.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Внешний базовый URL, от которого строятся proxy-ссылки (пусто: относительные пути)
	PublicURL string

	// --- Telegram ---

	// Базовый URL Bot API (https://api.telegram.org)
	TelegramAPIURL string
	// Базовый URL скачивания файлов (https://api.telegram.org/file)
	TelegramFileURL string
	// Токен бота. Может быть пустым: загрузка тогда завершается ConfigError
	BotToken string
	// Идентификатор чата/канала для хранения файлов
	ChatID string
	// Таймаут "лёгких" вызовов Bot API (sendMessage, getFile)
	TelegramTimeout time.Duration
	// Таймаут sendDocument
	TelegramUploadTimeout time.Duration

	// --- Загрузка ---

	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Директория для временных файлов multipart-загрузки
	UploadDir string

	// --- Хранилище метаданных ---

	// Backend: memory или postgres
	Store string
	// Файл снапшота для memory backend (пусто: без персистентности)
	StateFile string

	// Параметры PostgreSQL (для Store == postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Кэш ---

	// Максимальное количество записей в LRU-кэше resolver'а
	CacheMaxSize int
	// TTL записи кэша (ссылки Telegram живут около часа)
	CacheTTL time.Duration

	// --- Переписывание ссылок ---

	// Включить финальный проход по выходному потоку (reverse proxy к хосту)
	OutputRewrite bool
	// URL приложения-хоста для reverse proxy (пусто: proxy отключён)
	UpstreamURL string

	// --- Сверка ---

	// Интервал фоновой сверки вложений (0: только по запросу)
	ReconcileInterval time.Duration
	// Количество параллельных обращений к Telegram при сверке
	ReconcileConcurrency int

	// --- Аутентификация API ---

	// URL JWKS endpoint (пусто: API без аутентификации)
	JWKSUrl string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration

	// --- topologymetrics ---

	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Имя группы в метриках
	DephealthGroup string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Дедлайн чтения и записи для upload и /telegram-file/{id}
	// вместо HTTPReadTimeout/HTTPWriteTimeout
	HTTPTransferTimeout time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если значения некорректны.
//
//nolint:cyclop,funlen // линейный разбор переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// TP_PORT: порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("TP_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("TP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// TP_LOG_LEVEL: уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TP_LOG_LEVEL: %w", err)
	}

	// TP_LOG_FORMAT: формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TP_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// TP_PUBLIC_URL: внешний URL сервиса (опционально)
	cfg.PublicURL = strings.TrimRight(getEnvDefault("TP_PUBLIC_URL", ""), "/")
	if cfg.PublicURL != "" {
		if err := validateURL(cfg.PublicURL); err != nil {
			return nil, fmt.Errorf("TP_PUBLIC_URL: %w", err)
		}
	}

	// --- Telegram ---

	cfg.TelegramAPIURL = strings.TrimRight(getEnvDefault("TP_TELEGRAM_API_URL", "https://api.telegram.org"), "/")
	if err := validateURL(cfg.TelegramAPIURL); err != nil {
		return nil, fmt.Errorf("TP_TELEGRAM_API_URL: %w", err)
	}

	cfg.TelegramFileURL = strings.TrimRight(getEnvDefault("TP_TELEGRAM_FILE_URL", cfg.TelegramAPIURL+"/file"), "/")
	if err := validateURL(cfg.TelegramFileURL); err != nil {
		return nil, fmt.Errorf("TP_TELEGRAM_FILE_URL: %w", err)
	}

	// Токен и чат не обязательны на старте: без них сервис раздаёт
	// уже загруженные файлы, а новые загрузки отклоняются.
	cfg.BotToken = strings.TrimSpace(os.Getenv("TP_TELEGRAM_BOT_TOKEN"))
	cfg.ChatID = strings.TrimSpace(os.Getenv("TP_TELEGRAM_CHAT_ID"))

	cfg.TelegramTimeout, err = getEnvPositiveDuration("TP_TELEGRAM_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TP_TELEGRAM_TIMEOUT: %w", err)
	}

	cfg.TelegramUploadTimeout, err = getEnvPositiveDuration("TP_TELEGRAM_UPLOAD_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TP_TELEGRAM_UPLOAD_TIMEOUT: %w", err)
	}

	// --- Загрузка ---

	cfg.MaxFileSize, err = getEnvInt64("TP_MAX_FILE_SIZE", DefaultMaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("TP_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 || cfg.MaxFileSize > DefaultMaxFileSize {
		return nil, fmt.Errorf("TP_MAX_FILE_SIZE: значение должно быть в диапазоне 1-%d", DefaultMaxFileSize)
	}

	cfg.UploadDir = getEnvDefault("TP_UPLOAD_DIR", os.TempDir())

	// --- Хранилище метаданных ---

	cfg.Store = strings.ToLower(getEnvDefault("TP_STORE", StoreMemory))
	if cfg.Store != StoreMemory && cfg.Store != StorePostgres {
		return nil, fmt.Errorf("TP_STORE: недопустимое значение %q, допустимые: memory, postgres", cfg.Store)
	}
	cfg.StateFile = getEnvDefault("TP_STATE_FILE", "")

	if cfg.Store == StorePostgres {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}

	// --- Кэш ---

	cfg.CacheMaxSize, err = getEnvInt("TP_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("TP_CACHE_SIZE: %w", err)
	}
	if cfg.CacheMaxSize <= 0 {
		return nil, fmt.Errorf("TP_CACHE_SIZE: значение должно быть > 0")
	}

	cfg.CacheTTL, err = getEnvPositiveDuration("TP_CACHE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TP_CACHE_TTL: %w", err)
	}

	// --- Переписывание ссылок ---

	cfg.OutputRewrite, err = getEnvBool("TP_OUTPUT_REWRITE", true)
	if err != nil {
		return nil, fmt.Errorf("TP_OUTPUT_REWRITE: %w", err)
	}

	cfg.UpstreamURL = strings.TrimRight(getEnvDefault("TP_UPSTREAM_URL", ""), "/")
	if cfg.UpstreamURL != "" {
		if err := validateURL(cfg.UpstreamURL); err != nil {
			return nil, fmt.Errorf("TP_UPSTREAM_URL: %w", err)
		}
	}

	// --- Сверка ---

	cfg.ReconcileInterval, err = getEnvDuration("TP_RECONCILE_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("TP_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval < 0 {
		return nil, fmt.Errorf("TP_RECONCILE_INTERVAL: значение не может быть отрицательным")
	}

	cfg.ReconcileConcurrency, err = getEnvInt("TP_RECONCILE_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("TP_RECONCILE_CONCURRENCY: %w", err)
	}
	if cfg.ReconcileConcurrency < 1 {
		return nil, fmt.Errorf("TP_RECONCILE_CONCURRENCY: значение должно быть >= 1")
	}

	// --- Аутентификация API ---

	cfg.JWKSUrl = getEnvDefault("TP_JWKS_URL", "")

	cfg.JWTLeeway, err = getEnvDuration("TP_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TP_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("TP_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TP_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("TP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("TP_DEPHEALTH_GROUP", "telegram-proxy")

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvPositiveDuration("TP_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TP_HTTP_READ_TIMEOUT: %w", err)
	}

	// Запись ответа включает streaming файла из Telegram, поэтому таймаут больше
	cfg.HTTPWriteTimeout, err = getEnvPositiveDuration("TP_HTTP_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TP_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvPositiveDuration("TP_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TP_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.HTTPTransferTimeout, err = getEnvPositiveDuration("TP_HTTP_TRANSFER_TIMEOUT", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TP_HTTP_TRANSFER_TIMEOUT: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("TP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TP_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDatabase загружает параметры PostgreSQL (обязательны для postgres backend).
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("TP_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("TP_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("TP_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("TP_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("TP_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("TP_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("TP_DB_SSL_MODE", "disable")
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgx.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// TelegramConfigured возвращает true, если заданы и токен, и чат.
func (c *Config) TelegramConfigured() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration: как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// validateURL проверяет, что строка: абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("некорректный URL %q: ожидается схема http или https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("некорректный URL %q: не указан хост", raw)
	}
	return nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
