package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/classroom-sync-api/api/swagger"
	"github.com/noah-isme/classroom-sync-api/internal/handler"
	"github.com/noah-isme/classroom-sync-api/internal/repository"
	"github.com/noah-isme/classroom-sync-api/internal/service"
	"github.com/noah-isme/classroom-sync-api/internal/upstream"
	"github.com/noah-isme/classroom-sync-api/pkg/cache"
	"github.com/noah-isme/classroom-sync-api/pkg/config"
	"github.com/noah-isme/classroom-sync-api/pkg/database"
	"github.com/noah-isme/classroom-sync-api/pkg/jobs"
	"github.com/noah-isme/classroom-sync-api/pkg/logger"
)

// @title Classroom Sync API
// @version 1.0.0
// @description Cached, fail-open aggregation of classroom courses, submissions and schedules.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey SessionToken
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logr.Fatal("failed to open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer db.Close()
	checks := map[string]handler.Pinger{"database": db}

	cacheRepo, redisClient := buildCacheRepository(cfg, logr)
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisPinger{client: redisClient}
	}
	viewCache := service.NewViewCache(cacheRepo, metrics, logr.Named("view_cache"))

	validate := validator.New()
	overlaySvc := service.NewOverlayService(repository.NewOverlayRepository(db), validate, logr.Named("overlay"))

	client := upstream.NewClient(upstream.Config{
		ClassroomBaseURL: cfg.Upstream.ClassroomBaseURL,
		CalendarBaseURL:  cfg.Upstream.CalendarBaseURL,
		Timeout:          cfg.Upstream.Timeout,
		Recorder:         metrics,
		Logger:           logr.Named("upstream"),
	})

	aggregator := service.NewAggregatorService(service.AggregatorServiceParams{
		Upstream: client,
		Overlays: overlaySvc,
		Metrics:  metrics,
		Logger:   logr.Named("aggregator"),
		Config: service.AggregatorConfig{
			DispatchInterval:          cfg.Governor.DispatchInterval,
			SubmissionConcurrency:     cfg.Governor.SubmissionConcurrency,
			TodoCourseConcurrency:     cfg.Governor.TodoCourseConcurrency,
			TodoSubmissionConcurrency: cfg.Governor.TodoSubmissionConcurrency,
			ProbeConcurrency:          cfg.Governor.ProbeConcurrency,
			TodoCourseworkLimit:       cfg.Sync.TodoCourseworkLimit,
			CalendarWindow:            cfg.Calendar.Window,
			CalendarMaxResults:        cfg.Calendar.MaxResults,
		},
	})

	syncSvc := service.NewSyncService(service.SyncServiceParams{
		Aggregator: aggregator,
		Cache:      viewCache,
		Overlays:   overlaySvc,
		Bus:        service.NewInvalidationBus(logr.Named("invalidation")),
		Metrics:    metrics,
		Logger:     logr.Named("sync"),
		Config: service.SyncServiceConfig{
			StalePolicies:  map[string]string{service.ViewTodo: cfg.Sync.TodoStalePolicy},
			RefreshTimeout: cfg.Sync.RefreshTimeout,
		},
	})
	refreshQueue := jobs.NewQueue("view-refresh", syncSvc.HandleRefreshJob, jobs.QueueConfig{
		Workers:    cfg.Sync.RefreshWorkers,
		MaxRetries: 1,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})
	refreshQueue.Start(ctx)
	defer refreshQueue.Stop()
	syncSvc.SetQueue(refreshQueue)

	sessions := service.NewSessionService(service.SessionConfig{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		Expiration: cfg.JWT.Expiration,
	})

	router := newRouter(cfg, logr, routerDeps{
		sessions: sessions,
		metrics:  metrics,
		sync:     handler.NewSyncHandler(syncSvc, service.NewTodoExportService(nil, nil)),
		overlays: handler.NewOverlayHandler(overlaySvc),
		ops:      handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("cache_backend", cfg.Sync.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

// buildCacheRepository selects the view cache backend. A Redis backend that
// cannot be reached falls back to memory so reads still work per instance.
func buildCacheRepository(cfg *config.Config, logr *zap.Logger) (service.ViewCacheRepository, *redis.Client) {
	if cfg.Sync.CacheBackend != config.CacheBackendRedis {
		return repository.NewMemoryCacheRepository(), nil
	}
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, using in-memory view cache", zap.Error(err))
		return repository.NewMemoryCacheRepository(), nil
	}
	return repository.NewCacheRepository(client, logr.Named("redis_cache")), client
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
