package app

import (
	"github.com/yungbote/shifu-backend/internal/http"
	httpH "github.com/yungbote/shifu-backend/internal/http/handlers"
	httpMW "github.com/yungbote/shifu-backend/internal/http/middleware"
	"github.com/yungbote/shifu-backend/internal/observability"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health *httpH.HealthHandler
	Learn  *httpH.LearnHandler
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecretKey)}
}

func wireHandlers(log *logger.Logger, services Services, metrics *observability.Metrics) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(metrics),
		Learn:  httpH.NewLearnHandler(log, services.Learn),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware, metrics *observability.Metrics) *http.Server {
	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	return http.NewServer(http.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		AuthMiddleware: middleware.Auth,
		CORSOrigins:    cfg.Server.CORSOrigins,
		ServiceName:    serviceName,
		LearnHandler:   handlers.Learn,
		HealthHandler:  handlers.Health,
	})
}
