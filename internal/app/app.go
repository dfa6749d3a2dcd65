package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"student-records-service/internal/config"
	"student-records-service/internal/database"
	"student-records-service/internal/http/handler"
	"student-records-service/internal/http/router"
	"student-records-service/internal/observability"
	"student-records-service/internal/repository"
	"student-records-service/internal/service"
)

const sessionCleanupInterval = time.Hour

// App owns the wired service graph and the lifecycle of its background
// pieces: the HTTP server, the task worker, and the session janitor.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	DB              *gorm.DB
	Redis           *redis.Client
	Tasks           *service.TaskService
	sessions        repository.SessionRepository
	shutdownTimeout time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
}

// New builds the whole application from configuration. A Redis that is
// unreachable at startup downgrades the cache to pass-through mode instead
// of failing boot.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}

	runtime, err := observability.InitRuntime(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}

	redisClient, cache := connectCache(cfg, logger)

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	authSvc := service.NewAuthService(userRepo, sessionRepo, cfg.SessionTTL)
	studentSvc := service.NewStudentService(studentRepo, cache, cfg.CacheTTL, cfg.CachePrefix, cfg.ImportMaxRows, logger)
	taskSvc := service.NewTaskService(taskRepo, studentSvc, logger)

	checks := []router.ReadinessCheck{
		{Name: "database", Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
	}
	if redisClient != nil {
		checks = append(checks, router.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc),
		StudentHandler:   handler.NewStudentHandler(studentSvc, taskSvc),
		TaskHandler:      handler.NewTaskHandler(taskSvc),
		Verifier:         authSvc,
		CORSOrigins:      cfg.CORSOrigins,
		APIRateLimitRPM:  cfg.APIRateRPM,
		AuthRateLimitRPM: cfg.AuthRateRPM,
		MaxBodyBytes:     cfg.MaxBodyBytes,
		ReadinessChecks:  checks,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	a := &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		DB:              db,
		Redis:           redisClient,
		Tasks:           taskSvc,
		sessions:        sessionRepo,
		shutdownTimeout: cfg.ShutdownTimeout,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}
	go a.sessionJanitor()
	return a, nil
}

// Run serves HTTP until SIGINT/SIGTERM, then drains in order: server,
// task worker, janitor, observability.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		a.Logger.Info("shutdown signal received", "signal", sig.String())
	}
	return a.Shutdown()
}

func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("http server shutdown failed", "error", err)
	}
	a.Tasks.Stop()
	close(a.janitorStop)
	<-a.janitorDone
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Observability != nil {
		if err := a.Observability.Shutdown(ctx); err != nil {
			a.Logger.Error("observability shutdown failed", "error", err)
		}
	}
	a.Logger.Info("shutdown complete")
	return nil
}

func (a *App) sessionJanitor() {
	defer close(a.janitorDone)
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.janitorStop:
			return
		case <-ticker.C:
			removed, err := a.sessions.CleanupExpired()
			if err != nil {
				a.Logger.Error("session cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				a.Logger.Info("expired sessions removed", "count", removed)
			}
		}
	}
}

// connectCache probes Redis once at startup. On failure the returned store
// is a no-op pass-through and every read goes straight to the database.
func connectCache(cfg *config.Config, logger *slog.Logger) (*redis.Client, service.QueryCacheStore) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, running without cache", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil, service.NewNoopQueryCacheStore()
	}
	return client, service.NewRedisQueryCacheStore(client)
}
