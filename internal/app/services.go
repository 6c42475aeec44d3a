package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/mailscope-backend/internal/enrich"
	"github.com/yungbote/mailscope-backend/internal/observability"
	"github.com/yungbote/mailscope-backend/internal/pipeline"
	"github.com/yungbote/mailscope-backend/internal/pipeline/broker"
	"github.com/yungbote/mailscope-backend/internal/pipeline/temporalrun"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
	"github.com/yungbote/mailscope-backend/internal/search"
	msync "github.com/yungbote/mailscope-backend/internal/sync"
)

type Services struct {
	Enrich  *enrich.Service
	Stages  *pipeline.Stages
	Search  *search.Engine
	Sweeper *msync.Sweeper

	// Enqueuer feeds new work into whichever backend is active.
	Enqueuer msync.Enqueuer

	Broker         *broker.Broker
	TemporalRunner *temporalrun.Runner
}

// temporalEnqueuer starts one workflow per enqueued email.
type temporalEnqueuer struct {
	tc temporalsdkclient.Client
}

func (t *temporalEnqueuer) EnqueueIngest(ctx context.Context, env pipeline.Envelope) error {
	return temporalrun.StartPipeline(ctx, t.tc, env)
}

func wireServices(
	log *logger.Logger,
	cfg Config,
	clients Clients,
	reposet Repos,
	metrics *observability.Metrics,
) (Services, error) {
	log.Info("Wiring services...")

	enrichSvc := enrich.NewService(log, clients.AI)
	stages := pipeline.NewStages(
		log,
		reposet.Email,
		reposet.Point,
		enrichSvc,
		clients.AI,
		clients.Sparse,
		clients.Store,
		clients.Provider,
	)
	engine := search.NewEngine(log, clients.AI, clients.Sparse, clients.Store, reposet.Email)

	svcs := Services{
		Enrich: enrichSvc,
		Stages: stages,
		Search: engine,
	}

	switch cfg.PipelineBackend {
	case BackendRedis:
		b, err := broker.New(log, clients.Redis, stages, metrics, broker.LoadConfig())
		if err != nil {
			return Services{}, fmt.Errorf("init pipeline broker: %w", err)
		}
		svcs.Broker = b
		svcs.Enqueuer = b
	case BackendTemporal:
		acts, err := temporalrun.NewActivities(log, stages)
		if err != nil {
			return Services{}, fmt.Errorf("init temporal activities: %w", err)
		}
		runner, err := temporalrun.NewRunner(log, clients.Temporal, acts)
		if err != nil {
			return Services{}, fmt.Errorf("init temporal runner: %w", err)
		}
		svcs.TemporalRunner = runner
		svcs.Enqueuer = &temporalEnqueuer{tc: clients.Temporal}
	}

	sweeper, err := msync.NewSweeper(
		log,
		reposet.Folder,
		reposet.Email,
		clients.Provider,
		clients.Store,
		svcs.Enqueuer,
		metrics,
	)
	if err != nil {
		return Services{}, fmt.Errorf("init folder sweeper: %w", err)
	}
	svcs.Sweeper = sweeper

	return svcs, nil
}
