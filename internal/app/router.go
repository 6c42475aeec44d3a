package app

import (
	"github.com/gin-gonic/gin"

	internalhttp "github.com/yungbote/mailscope-backend/internal/http"
	"github.com/yungbote/mailscope-backend/internal/observability"
)

func wireRouter(handlers Handlers, metrics *observability.Metrics) *gin.Engine {
	return internalhttp.NewRouter(internalhttp.RouterConfig{
		SearchHandler: handlers.Search,
		EmailHandler:  handlers.Email,
		HealthHandler: handlers.Health,
		Metrics:       metrics,
	})
}
