package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-sync-api/internal/handler"
	"github.com/noah-isme/classroom-sync-api/internal/middleware"
	"github.com/noah-isme/classroom-sync-api/internal/service"
	"github.com/noah-isme/classroom-sync-api/pkg/config"
	"github.com/noah-isme/classroom-sync-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/classroom-sync-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classroom-sync-api/pkg/middleware/requestid"
)

type routerDeps struct {
	sessions *service.SessionService
	metrics  *service.MetricsService
	sync     *handler.SyncHandler
	overlays *handler.OverlayHandler
	ops      *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.ops.Health)
	r.GET("/ready", deps.ops.Ready)
	r.GET("/metrics", deps.ops.Prometheus)
	r.GET("/metrics/sync", deps.ops.Sync)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.Session(deps.sessions), middleware.WithResponseMeta())

	api.GET("/courses", deps.sync.Courses)
	api.GET("/courses/:courseId/aggregate", deps.sync.CourseAggregate)
	api.GET("/courses/:courseId/todo", deps.sync.CourseTodo)
	api.GET("/todo", deps.sync.Todo)
	api.GET("/todo/export", deps.sync.ExportTodo)
	api.GET("/stream", deps.sync.Stream)
	api.GET("/schedule", deps.sync.Schedule)
	api.DELETE("/sync/cache", deps.sync.ClearCache)

	api.GET("/overlays", deps.overlays.List)
	api.GET("/overlays/:studentId", deps.overlays.Get)
	api.PUT("/overlays/:studentId", deps.overlays.Upsert)
	api.DELETE("/overlays/:studentId", deps.overlays.Delete)
	api.DELETE("/overlay-groups/:group", deps.overlays.DeleteGroup)

	return r
}
