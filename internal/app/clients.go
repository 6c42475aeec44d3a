package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/mailscope-backend/internal/pipeline/broker"
	"github.com/yungbote/mailscope-backend/internal/platform/graphmail"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
	"github.com/yungbote/mailscope-backend/internal/platform/openai"
	"github.com/yungbote/mailscope-backend/internal/platform/qdrant"
	"github.com/yungbote/mailscope-backend/internal/platform/sparsembed"
	"github.com/yungbote/mailscope-backend/internal/platform/temporalx"
)

type Clients struct {
	AI       openai.Client
	Sparse   sparsembed.Client
	Store    qdrant.Store
	Provider graphmail.Client

	// Exactly one of the two orchestration clients is wired, per
	// PIPELINE_BACKEND.
	Redis    *goredis.Client
	Temporal temporalsdkclient.Client
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	ai, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}
	sparse, err := sparsembed.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init sparse embed client: %w", err)
	}

	qcfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		return Clients{}, fmt.Errorf("resolve qdrant config: %w", err)
	}
	store, err := qdrant.NewStore(log, qcfg)
	if err != nil {
		return Clients{}, fmt.Errorf("init qdrant store: %w", err)
	}

	provider, err := graphmail.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init mail provider client: %w", err)
	}

	clients := Clients{
		AI:       ai,
		Sparse:   sparse,
		Store:    store,
		Provider: provider,
	}

	switch cfg.PipelineBackend {
	case BackendRedis:
		rdb, err := broker.NewRedisClient(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis client: %w", err)
		}
		clients.Redis = rdb
	case BackendTemporal:
		tc, err := temporalx.NewClient(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init temporal client: %w", err)
		}
		if tc == nil {
			return Clients{}, fmt.Errorf("temporal backend selected but TEMPORAL_ADDRESS is not set")
		}
		clients.Temporal = tc
	}

	return clients, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}
