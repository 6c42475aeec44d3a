package app

import (
	httpH "github.com/yungbote/mailscope-backend/internal/http/handlers"
	"github.com/yungbote/mailscope-backend/internal/observability"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

type Handlers struct {
	Search *httpH.SearchHandler
	Email  *httpH.EmailHandler
	Health *httpH.HealthHandler
}

func wireHandlers(
	log *logger.Logger,
	reposet Repos,
	svcs Services,
	metrics *observability.Metrics,
) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Search: httpH.NewSearchHandler(svcs.Search, metrics),
		Email:  httpH.NewEmailHandler(reposet.Email, svcs.Enqueuer),
		Health: httpH.NewHealthHandler(),
	}
}
