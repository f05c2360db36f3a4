// Точка входа Telegram Proxy: вынос медиафайлов в Telegram.
// Загружает конфигурацию, поднимает хранилище метаданных (память или
// PostgreSQL), клиент Bot API, конвейер загрузки, ядро замены ссылок и
// resolver, запускает фоновую сверку, topologymetrics и HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/tgproxy/internal/api/handlers"
	"github.com/bigkaa/tgproxy/internal/api/middleware"
	"github.com/bigkaa/tgproxy/internal/api/openapi"
	"github.com/bigkaa/tgproxy/internal/config"
	"github.com/bigkaa/tgproxy/internal/database"
	"github.com/bigkaa/tgproxy/internal/repository"
	"github.com/bigkaa/tgproxy/internal/server"
	"github.com/bigkaa/tgproxy/internal/service"
	"github.com/bigkaa/tgproxy/internal/tgclient"
)

//nolint:funlen,cyclop // последовательная сборка зависимостей
func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Telegram Proxy запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.Store),
	)

	if !cfg.TelegramConfigured() {
		logger.Warn("TP_TELEGRAM_BOT_TOKEN или TP_TELEGRAM_CHAT_ID не заданы, загрузка файлов недоступна")
	}

	ctx := context.Background()

	// 3. Хранилище метаданных вложений
	var (
		repo      repository.AttachmentRepository
		readiness handlers.ReadinessChecker
		pgDB      *sql.DB
	)
	switch cfg.Store {
	case config.StorePostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		repo = repository.NewPostgresRepository(pool)
		readiness = database.NewReadinessChecker(pool)
	default:
		store, err := repository.NewMemoryStore(cfg.StateFile, logger)
		if err != nil {
			logger.Error("Ошибка загрузки снапшота вложений",
				slog.String("state_file", cfg.StateFile),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		repo = store
	}

	// 4. Клиент Telegram Bot API
	tg := tgclient.New(tgclient.Config{
		APIURL:        cfg.TelegramAPIURL,
		FileURL:       cfg.TelegramFileURL,
		Token:         cfg.BotToken,
		ChatID:        cfg.ChatID,
		Timeout:       cfg.TelegramTimeout,
		UploadTimeout: cfg.TelegramUploadTimeout,
	}, logger)

	// 5. Services
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	uploadSvc := service.NewUploadService(tg, repo, cache, cfg.MaxFileSize, logger)
	rewriter := service.NewRewriter(repo, cfg.TelegramFileURL, cfg.PublicURL, logger)
	resolverSvc := service.NewResolverService(tg, repo, cache, logger)
	settingsSvc := service.NewSettingsService(tg, repo, resolverSvc, logger)
	reconcileSvc := service.NewReconcileService(
		tg, repo, cache,
		cfg.ReconcileInterval, cfg.ReconcileConcurrency,
		logger,
	)

	// 6. Фоновая сверка (при TP_RECONCILE_INTERVAL > 0)
	reconcileSvc.Start(ctx)
	defer reconcileSvc.Stop()

	// 7. topologymetrics: мониторинг Telegram Bot API и PostgreSQL
	var deps handlers.DependencyHealth
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     "telegram-proxy",
		Group:         cfg.DephealthGroup,
		TelegramURL:   cfg.TelegramAPIURL,
		DB:            pgDB,
		PGConnURL:     pgConnURL(cfg),
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		defer dephealthSvc.Stop()
		deps = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 8. Handlers
	h := server.Handlers{
		Health:      handlers.NewHealthHandler(readiness, tg, deps),
		Proxy:       handlers.NewProxyHandler(resolverSvc, logger),
		Uploads:     handlers.NewUploadsHandler(uploadSvc, rewriter, cfg.UploadDir, cfg.MaxFileSize, logger),
		Attachments: handlers.NewAttachmentsHandler(repo, rewriter, logger),
		Rewrite:     handlers.NewRewriteHandler(rewriter, logger),
		Settings:    handlers.NewSettingsHandler(settingsSvc, reconcileSvc, rewriter, logger),
	}

	// 9. Middleware: метрики, логирование, OpenAPI-валидация, JWT
	opts := server.RouterOptions{
		Middlewares: []func(http.Handler) http.Handler{
			middleware.MetricsMiddleware(),
			middleware.RequestLogger(logger),
		},
		TransferTimeout: cfg.HTTPTransferTimeout,
		Logger:          logger,
	}

	opts.Validator, err = middleware.NewRequestValidator(openapi.Spec, logger)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-спецификации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.JWKSUrl != "" {
		opts.Auth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   cfg.TelegramTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("TP_JWKS_URL не задан, API /api/v1 доступен без аутентификации")
	}

	// 10. Reverse proxy к хосту с финальной заменой ссылок
	if cfg.UpstreamURL != "" {
		upstream, err := url.Parse(cfg.UpstreamURL)
		if err != nil {
			logger.Error("Некорректный TP_UPSTREAM_URL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		var out server.OutputRewriter
		if cfg.OutputRewrite {
			out = rewriter
		}
		opts.Upstream = server.NewUpstreamProxy(upstream, out, logger)
		logger.Info("Reverse proxy к хосту включён",
			slog.String("upstream", cfg.UpstreamURL),
			slog.Bool("output_rewrite", cfg.OutputRewrite),
		)
	}

	// 11. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, server.NewRouter(h, opts))
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // defer'ы не критичны при аварийном завершении
	}

	logger.Info("Telegram Proxy остановлен")
}

// pgConnURL: URL PostgreSQL для лейблов topologymetrics (пусто для memory).
func pgConnURL(cfg *config.Config) string {
	if cfg.Store != config.StorePostgres {
		return ""
	}
	return cfg.DatabaseDSN()
}
