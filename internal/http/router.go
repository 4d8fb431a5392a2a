package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/shifu-backend/internal/http/handlers"
	httpMW "github.com/yungbote/shifu-backend/internal/http/middleware"
	"github.com/yungbote/shifu-backend/internal/observability"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	AuthMiddleware *httpMW.AuthMiddleware
	CORSOrigins    []string
	ServiceName    string

	LearnHandler  *httpH.LearnHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		if cfg.Metrics != nil {
			r.GET("/metrics", cfg.HealthHandler.Metrics)
		}
	}

	api := r.Group("/api")
	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Learn
		if cfg.LearnHandler != nil {
			protected.POST("/learn/shifu/:shifu_bid/run", cfg.LearnHandler.Run)
			protected.GET("/learn/shifu/:shifu_bid/records", cfg.LearnHandler.Records)
			protected.POST("/learn/shifu/:shifu_bid/reset", cfg.LearnHandler.Reset)
		}
	}

	return r
}
