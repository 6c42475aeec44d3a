package app

import (
	"strings"

	"github.com/google/uuid"
	"github.com/yungbote/mailscope-backend/internal/platform/envutil"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

type Config struct {
	Port            string
	PipelineBackend string
	Environment     string
	Version         string

	// SyncUserID is the mailbox owner this worker sweeps. Left zero the
	// sweeper stays off and emails only enter through explicit enqueues.
	SyncUserID uuid.UUID
}

const (
	BackendRedis    = "redis"
	BackendTemporal = "temporal"
)

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:            envutil.String("PORT", "8080"),
		PipelineBackend: strings.ToLower(envutil.String("PIPELINE_BACKEND", BackendRedis)),
		Environment:     envutil.String("APP_ENV", "development"),
		Version:         envutil.String("APP_VERSION", "dev"),
	}

	if raw := envutil.String("SYNC_USER_ID", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Warn("Invalid SYNC_USER_ID; folder sync disabled", "error", err.Error())
		} else {
			cfg.SyncUserID = id
		}
	}

	if cfg.PipelineBackend != BackendRedis && cfg.PipelineBackend != BackendTemporal {
		log.Warn("Unknown PIPELINE_BACKEND; falling back to redis",
			"backend", cfg.PipelineBackend,
		)
		cfg.PipelineBackend = BackendRedis
	}
	return cfg
}
