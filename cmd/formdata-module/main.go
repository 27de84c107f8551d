// Точка входа Form Data Module — сервиса чтения форм и статистики по сабмишенам.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт репозитории, сервисы и клиент Enketo, запускает topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goodk/formdata-module/internal/api/handlers"
	"github.com/bigkaa/goodk/formdata-module/internal/api/middleware"
	"github.com/bigkaa/goodk/formdata-module/internal/config"
	"github.com/bigkaa/goodk/formdata-module/internal/database"
	"github.com/bigkaa/goodk/formdata-module/internal/enketo"
	"github.com/bigkaa/goodk/formdata-module/internal/query"
	"github.com/bigkaa/goodk/formdata-module/internal/repository"
	"github.com/bigkaa/goodk/formdata-module/internal/server"
	"github.com/bigkaa/goodk/formdata-module/internal/service"
	"github.com/bigkaa/goodk/formdata-module/internal/viewer"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Form Data Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("db_engine", cfg.DBEngine),
	)

	if !query.IsPostgres(cfg.DBEngine) {
		logger.Warn("Движок БД не поддерживается построителем запросов, статистика будет недоступна",
			slog.String("db_engine", cfg.DBEngine),
		)
	}

	// 3. Применение миграций БД
	if cfg.DBMigrate {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт через
	// тот же пул, что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	formRepo := repository.NewFormRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool, query.NewBuilder(cfg.DBEngine))

	// 6. Клиент Enketo
	enketoClient, err := enketo.New(enketo.Options{
		BaseURL:    cfg.EnketoURL,
		APIToken:   cfg.EnketoAPIToken,
		CACertPath: cfg.EnketoCACertPath,
		Timeout:    cfg.EnketoTimeout,
		CacheSize:  cfg.CacheMaxSize,
		CacheTTL:   cfg.EnketoCacheTTL,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента Enketo", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !enketoClient.Configured() {
		logger.Warn("FD_ENKETO_URL не задан, ссылки Enketo недоступны")
	}

	// 7. Services
	formCache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	formSvc := service.NewFormService(formRepo, formCache, logger)
	statsSvc := service.NewStatsService(submissionRepo, logger)
	linkSvc := service.NewLinkService(
		enketoClient,
		viewer.URLConfig{
			DefaultHost:  cfg.DefaultHost,
			TestingMode:  cfg.TestingMode,
			TestHost:     cfg.TestHTTPHost,
			TestUsername: cfg.TestUsername,
		},
		cfg.EnketoProtocol,
		logger,
	)

	// 8. JWT middleware и readiness checker JWKS (если аутентификация включена)
	var (
		jwtAuth     *middleware.JWTAuth
		jwksChecker handlers.ReadinessChecker
	)
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTCACertPath,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			middleware.AuthOptions{
				Issuer:         cfg.JWTIssuer,
				AdminGroups:    cfg.RoleAdminGroups,
				ReadonlyGroups: cfg.RoleReadonlyGroups,
				Leeway:         cfg.JWTLeeway,
			},
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}

		checker, checkerErr := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWTCACertPath, cfg.JWKSClientTimeout)
		if checkerErr != nil {
			logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", checkerErr.Error()))
			os.Exit(1)
		}
		jwksChecker = checker

		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("FD_JWT_JWKS_URL не задан, аутентификация отключена")
	}

	// 9. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), jwksChecker)
	apiHandler := handlers.NewAPIHandler(healthHandler, formSvc, statsSvc, linkSvc, logger)

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL + Enketo)
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:        "formdata-module",
		Group:            cfg.DephealthGroup,
		PGConnURL:        cfg.DatabaseURL(),
		EnketoURL:        cfg.EnketoURL,
		EnketoHealthPath: cfg.EnketoHealthPath,
		CheckInterval:    cfg.DephealthCheckInterval,
		IsEntry:          cfg.DephealthIsEntry,
	}, pgDB, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. Создание и запуск HTTP-сервера
	srv, err := server.New(cfg, logger, apiHandler, jwtAuth)
	if err != nil {
		logger.Error("Ошибка создания HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Form Data Module остановлен")
}
