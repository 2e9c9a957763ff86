package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/maynagashev/filelocker/internal/access"
	"github.com/maynagashev/filelocker/internal/handlers"
	appmiddleware "github.com/maynagashev/filelocker/internal/middleware"
	"github.com/maynagashev/filelocker/internal/repository"
	"github.com/maynagashev/filelocker/internal/services"
	"github.com/maynagashev/filelocker/internal/storage"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	// Загрузка и скачивание файлов до лимита должны укладываться в эти таймауты.
	defaultReadTimeout  = 5 * time.Minute
	defaultWriteTimeout = 5 * time.Minute
	defaultIdleTimeout  = 60 * time.Second
	shutdownTimeout     = 15 * time.Second
	adminTokenTTL       = 24 * time.Hour
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db         *sqlx.DB
	blobs      storage.BlobStore
	reconciler *services.ReconcileService
	router     *chi.Mux
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(2)
	}
	logger := setupLogger(cfg, os.Stdout)

	if cfg.IssueAdminToken {
		token, tokenErr := appmiddleware.IssueToken([]byte(cfg.AdminSecret), adminTokenTTL)
		if tokenErr != nil {
			logger.Error("Не удалось выпустить токен", slog.String("error", tokenErr.Error()))
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, logger); err != nil {
		logger.Error("Ошибка выполнения сервера", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

// setupLogger создает slog логгер в формате text или json.
func setupLogger(cfg *config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// run содержит основную логику запуска сервера и возвращает ошибку.
// Завершается при отмене ctx после корректной остановки сервера.
func run(ctx context.Context, cfg *config, logger *slog.Logger) error {
	logger.Info("Запуск сервера filelocker",
		slog.String("access_mode", string(cfg.AccessMode)),
		slog.String("blob_driver", cfg.Blob.Driver),
		slog.String("max_upload_size", humanize.IBytes(uint64(cfg.MaxUploadSize))),
		slog.String("allowed_types", cfg.AllowedTypes.String()),
	)

	deps, err := setupDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer func() {
		if closeErr := deps.db.Close(); closeErr != nil {
			logger.Error("Ошибка закрытия соединения с БД", slog.String("error", closeErr.Error()))
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deps.router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(server, cfg, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Остановка сервера")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("ошибка остановки сервера: %w", shutdownErr)
		}
		return nil
	})

	deps.reconciler.Start(gctx)
	err = g.Wait()
	deps.reconciler.Stop()

	if err != nil {
		return err
	}
	logger.Info("Сервер остановлен")
	return nil
}

// serve запускает HTTP или HTTPS в зависимости от конфигурации.
func serve(server *http.Server, cfg *config, logger *slog.Logger) error {
	var err error
	if cfg.TLSEnabled() {
		logger.Info("Запуск HTTPS-сервера",
			slog.String("addr", server.Addr),
			slog.String("cert_file", cfg.CertFile),
		)
		err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		logger.Info("Запуск HTTP-сервера", slog.String("addr", server.Addr))
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка запуска сервера: %w", err)
	}
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(ctx context.Context, cfg *config, logger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. Миграции и подключение к БД
	if cfg.Migrate {
		if err = repository.Migrate(cfg.DatabaseDSN, logger); err != nil {
			return nil, fmt.Errorf("ошибка миграции БД: %w", err)
		}
	}
	deps.db, err = repository.NewPostgresDB(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}

	// 2. Хранилище объектов
	deps.blobs, err = storage.New(ctx, cfg.Blob, logger)
	if err != nil {
		if dbCloseErr := deps.db.Close(); dbCloseErr != nil {
			logger.Error("Ошибка закрытия соединения с БД", slog.String("error", dbCloseErr.Error()))
		}
		return nil, fmt.Errorf("ошибка инициализации хранилища %s: %w", cfg.Blob.Driver, err)
	}

	// 3. Политика доступа, репозиторий и сервисы
	policy, err := access.NewPolicy(cfg.AccessMode)
	if err != nil {
		_ = deps.db.Close()
		return nil, err
	}
	records := repository.NewPostgresFileRepository(deps.db, logger)

	uploadService := services.NewUploadService(deps.blobs, records, policy, services.UploadConfig{
		MaxUploadSize: cfg.MaxUploadSize,
		AllowedTypes:  cfg.AllowedTypes,
	}, logger)
	fileService := services.NewFileService(deps.blobs, records, policy, logger)
	deps.reconciler = services.NewReconcileService(deps.blobs, records, cfg.Reconcile, logger)

	// 4. Роутер
	deps.router = setupRouter(cfg, routerDeps{
		upload:      uploadService,
		files:       fileService,
		reconciler:  deps.reconciler,
		dbChecker:   repository.NewReadinessChecker(deps.db),
		blobChecker: storage.NewReadinessChecker(deps.blobs),
	}, logger)

	return deps, nil
}

// routerDeps - сервисы, из которых собираются обработчики.
type routerDeps struct {
	upload      services.UploadService
	files       services.FileService
	reconciler  handlers.Reconciler
	dbChecker   handlers.ReadinessChecker
	blobChecker handlers.ReadinessChecker
}

// setupRouter собирает обработчики. Служебные маршруты включаются только при заданном секрете.
func setupRouter(cfg *config, d routerDeps, logger *slog.Logger) *chi.Mux {
	routerCfg := handlers.RouterConfig{
		Files:  handlers.NewFileHandler(d.upload, d.files, logger),
		Health: handlers.NewHealthHandler(d.dbChecker, d.blobChecker),
		Logger: logger,
	}
	if cfg.AdminSecret != "" {
		routerCfg.Maintenance = handlers.NewMaintenanceHandler(d.reconciler, logger)
		routerCfg.AdminSecret = []byte(cfg.AdminSecret)
	} else {
		logger.Info("ADMIN_JWT_SECRET не задан, служебные маршруты отключены")
	}
	return handlers.NewRouter(routerCfg)
}
