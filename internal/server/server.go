// Пакет server: HTTP-сервер Telegram Proxy с graceful shutdown.
// Без TLS: TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/tgproxy/internal/api/handlers"
	"github.com/bigkaa/tgproxy/internal/api/middleware"
	"github.com/bigkaa/tgproxy/internal/config"
)

// Handlers: обработчики всех маршрутов.
type Handlers struct {
	Health      *handlers.HealthHandler
	Proxy       *handlers.ProxyHandler
	Uploads     *handlers.UploadsHandler
	Attachments *handlers.AttachmentsHandler
	Rewrite     *handlers.RewriteHandler
	Settings    *handlers.SettingsHandler
}

// RouterOptions: необязательные части маршрутизации.
type RouterOptions struct {
	// Auth: JWT для /api/v1 (nil: без аутентификации)
	Auth *middleware.JWTAuth
	// Validator: проверка запросов по OpenAPI (nil: без проверки)
	Validator *middleware.RequestValidator
	// Upstream: reverse proxy к хосту для всех прочих путей (nil: 404)
	Upstream http.Handler
	// Middlewares: общие middleware (metrics, logging) в порядке применения
	Middlewares []func(http.Handler) http.Handler
	// TransferTimeout: дедлайн соединения для upload и раздачи файлов
	// (0: действуют серверные ReadTimeout/WriteTimeout)
	TransferTimeout time.Duration
	// Logger для middleware маршрутизатора (nil: slog.Default)
	Logger *slog.Logger
}

// NewRouter собирает chi-роутер.
func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	for _, mw := range opts.Middlewares {
		r.Use(mw)
	}

	transfer := func(h http.HandlerFunc) http.Handler { return h }
	if opts.TransferTimeout > 0 {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		mw := middleware.TransferDeadline(opts.TransferTimeout, logger)
		transfer = func(h http.HandlerFunc) http.Handler { return mw(h) }
	}

	r.Get("/health/live", h.Health.HealthLive)
	r.Get("/health/ready", h.Health.HealthReady)
	r.Get("/metrics", h.Health.GetMetrics)

	r.Method(http.MethodGet, "/telegram-file/{id}", transfer(h.Proxy.ServeFile))

	r.Route("/api/v1", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth.Middleware())
		}
		if opts.Validator != nil {
			r.Use(opts.Validator.Middleware())
		}

		r.Method(http.MethodPost, "/uploads", transfer(h.Uploads.UploadFile))
		r.Method(http.MethodPost, "/uploads/local", transfer(h.Uploads.UploadLocal))
		r.Get("/attachments/{local_id}", h.Attachments.GetAttachment)

		r.Route("/rewrite", func(r chi.Router) {
			r.Post("/url", h.Rewrite.RewriteURL)
			r.Post("/image-src", h.Rewrite.RewriteImageSrc)
			r.Post("/attributes", h.Rewrite.RewriteAttributes)
			r.Post("/html", h.Rewrite.RewriteHTML)
			r.Post("/content", h.Rewrite.RewriteContent)
		})

		r.Group(func(r chi.Router) {
			if opts.Auth != nil {
				r.Use(middleware.RequireScope(middleware.ScopeAdmin))
			}
			r.Post("/settings/validate", h.Settings.ValidateSettings)
			r.Post("/maintenance/test-chat", h.Settings.TestChat)
			r.Post("/maintenance/test-file", h.Settings.TestFile)
			r.Post("/maintenance/reconcile", h.Settings.Reconcile)
		})
	})

	if opts.Upstream != nil {
		r.NotFound(opts.Upstream.ServeHTTP)
		r.MethodNotAllowed(opts.Upstream.ServeHTTP)
	}

	return r
}

// Server: HTTP-сервер Telegram Proxy.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с таймаутами из конфигурации.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
			IdleTimeout:  cfg.HTTPIdleTimeout,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// Run запускает сервер и ожидает SIGINT/SIGTERM, затем выполняет
// graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
