package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/mailscope-backend/internal/http/handlers"
	httpMW "github.com/yungbote/mailscope-backend/internal/http/middleware"
	"github.com/yungbote/mailscope-backend/internal/observability"
)

type RouterConfig struct {
	SearchHandler *httpH.SearchHandler
	EmailHandler  *httpH.EmailHandler
	HealthHandler *httpH.HealthHandler

	Metrics *observability.Metrics
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware("mailscope-backend"))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	// Metrics (Prometheus exposition)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/v1")
	api.Use(httpMW.RequireUser())
	{
		if cfg.SearchHandler != nil {
			api.GET("/search", cfg.SearchHandler.Search)
		}

		if cfg.EmailHandler != nil {
			api.GET("/emails/:id", cfg.EmailHandler.GetEmail)
			api.POST("/emails/:id/reprocess", cfg.EmailHandler.Reprocess)
		}
	}

	return r
}
