package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/mailscope-backend/internal/platform/envutil"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

type Config struct {
	// StreamPrefix namespaces every key the broker touches, so one Redis
	// can carry several deployments.
	StreamPrefix string
	Group        string
	Consumer     string
	// Concurrency is the number of handler goroutines per stage stream.
	Concurrency int
	// BlockTimeout bounds one XREADGROUP call.
	BlockTimeout time.Duration
	// ReclaimIdle is how long a pending delivery may sit unacked on a dead
	// consumer before another one claims it.
	ReclaimIdle time.Duration
}

func LoadConfig() Config {
	return Config{
		StreamPrefix: envutil.String("PIPELINE_STREAM_PREFIX", "mailscope:pipeline"),
		Group:        envutil.String("PIPELINE_CONSUMER_GROUP", "pipeline-workers"),
		Consumer:     envutil.String("PIPELINE_CONSUMER_NAME", envutil.Hostname("worker")),
		Concurrency:  envutil.Int("PIPELINE_STAGE_CONCURRENCY", 4),
		BlockTimeout: envutil.DurationSeconds("PIPELINE_BLOCK_SECONDS", 5),
		ReclaimIdle:  envutil.DurationSeconds("PIPELINE_RECLAIM_IDLE_SECONDS", 600),
	}
}

// NewRedisClient dials Redis from REDIS_ADDR and verifies the connection.
func NewRedisClient(log *logger.Logger) (*goredis.Client, error) {
	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if log != nil {
		log.Info("Connected to Redis", "addr", addr)
	}
	return rdb, nil
}
