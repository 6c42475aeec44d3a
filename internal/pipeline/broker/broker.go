package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/yungbote/mailscope-backend/internal/observability"
	"github.com/yungbote/mailscope-backend/internal/pipeline"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

// Broker drives the pipeline over Redis Streams. Every stage has its own
// stream and one consumer group; a finished stage enqueues the next one, so
// the topology is choreography rather than a central coordinator.
type Broker struct {
	log     *logger.Logger
	rdb     *goredis.Client
	stages  *pipeline.Stages
	metrics *observability.Metrics
	cfg     Config
}

func New(log *logger.Logger, rdb *goredis.Client, stages *pipeline.Stages, metrics *observability.Metrics, cfg Config) (*Broker, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if stages == nil {
		return nil, fmt.Errorf("stages required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Broker{
		log:     log.With("service", "PipelineBroker"),
		rdb:     rdb,
		stages:  stages,
		metrics: metrics,
		cfg:     cfg,
	}, nil
}

// EnqueueIngest lets the folder sweeper hand changed messages to the broker.
func (b *Broker) EnqueueIngest(ctx context.Context, env pipeline.Envelope) error {
	return b.Enqueue(ctx, pipeline.StageIngest, env)
}

func (b *Broker) streamKey(stage string) string { return b.cfg.StreamPrefix + ":" + stage }

func (b *Broker) deadKey() string { return b.cfg.StreamPrefix + ":dead" }

func (b *Broker) delayedKey() string { return b.cfg.StreamPrefix + ":delayed" }

// Enqueue appends one delivery to a stage stream. A zero attempt is
// normalized to the first delivery.
func (b *Broker) Enqueue(ctx context.Context, stage string, env pipeline.Envelope) error {
	if env.Attempt < 1 {
		env.Attempt = 1
	}
	if env.TraceContext == nil {
		env.TraceContext = map[string]string{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(env.TraceContext))
	fields, err := encodeFields(env)
	if err != nil {
		return err
	}
	if err := b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.streamKey(stage),
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", stage, err)
	}
	return nil
}

// Start creates the consumer groups and launches the stage consumers, the
// delayed-retry pump, and the stale-delivery reclaimer. All goroutines stop
// when ctx is canceled.
func (b *Broker) Start(ctx context.Context) error {
	for _, stage := range pipeline.StageOrder {
		if err := b.ensureGroup(ctx, b.streamKey(stage)); err != nil {
			return err
		}
	}

	for _, stage := range pipeline.StageOrder {
		for i := 0; i < b.cfg.Concurrency; i++ {
			go b.consumeLoop(ctx, stage)
		}
		go b.reclaimLoop(ctx, stage)
	}
	go b.delayedLoop(ctx)

	b.log.Info("Pipeline broker started",
		"prefix", b.cfg.StreamPrefix,
		"group", b.cfg.Group,
		"concurrency", b.cfg.Concurrency,
	)
	return nil
}

func (b *Broker) ensureGroup(ctx context.Context, stream string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group on %s: %w", stream, err)
	}
	return nil
}

func (b *Broker) consumeLoop(ctx context.Context, stage string) {
	stream := b.streamKey(stage)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    b.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			b.log.Error("Stream read failed", "stage", stage, "error", err.Error())
			time.Sleep(time.Second)
			continue
		}

		for _, xs := range res {
			for _, msg := range xs.Messages {
				b.handle(ctx, stage, msg)
			}
		}
	}
}

func (b *Broker) handle(ctx context.Context, stage string, msg goredis.XMessage) {
	stream := b.streamKey(stage)
	ack := true
	defer func() {
		if ack {
			b.ack(ctx, stream, msg.ID)
		}
	}()

	env, err := decodeFields(msg.Values)
	if err != nil {
		b.log.Error("Undecodable pipeline message, dead-lettering",
			"stage", stage,
			"message_id", msg.ID,
			"error", err.Error(),
		)
		b.deadLetter(ctx, stage, msg.Values, err)
		return
	}

	if len(env.TraceContext) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(env.TraceContext))
	}

	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, pipeline.StageTimeout(stage))
	out, runErr := b.stages.Run(runCtx, stage, env)
	cancel()
	b.metrics.StageRan(stage, time.Since(started))

	if runErr == nil {
		ack = b.advance(ctx, stage, env, out)
		return
	}

	switch pipeline.Classify(runErr, env.Attempt) {
	case pipeline.DispositionRetry:
		b.metrics.StageRetried(stage)
		if b.scheduleRetry(ctx, stage, env, runErr) != nil {
			ack = false
		}
	case pipeline.DispositionFail:
		b.metrics.StageFailed(stage)
		b.log.Error("Stage failed terminally",
			"stage", stage,
			"email_id", env.EmailID,
			"attempt", env.Attempt,
			"error", runErr.Error(),
		)
		b.stages.Fail(ctx, env, stage, runErr)
		fields, err := encodeFields(env)
		if err == nil {
			b.deadLetter(ctx, stage, fields, runErr)
		}
	}
}

// advance hands a successful run off to the next stage. When the stream
// append fails it falls back to parking the handoff in the delay set, which
// is an independent write that may still succeed. Reports whether the
// consumed delivery may be acknowledged; a false return leaves it pending
// for the reclaimer.
func (b *Broker) advance(ctx context.Context, stage string, env pipeline.Envelope, out pipeline.Outcome) bool {
	if !out.Proceed {
		return true
	}
	next, ok := pipeline.NextStage(stage)
	if !ok {
		b.metrics.EmailCompleted()
		return true
	}
	nextEnv := env
	nextEnv.EmailID = out.EmailID
	nextEnv.Attempt = 1
	err := b.Enqueue(ctx, next, nextEnv)
	if err == nil {
		return true
	}
	b.log.Error("Failed to enqueue next stage",
		"stage", next,
		"email_id", nextEnv.EmailID,
		"error", err.Error(),
	)
	// The delayed entry redelivers as attempt 1 after the base delay.
	nextEnv.Attempt = 0
	return b.scheduleRetry(ctx, next, nextEnv, err) == nil
}

func (b *Broker) scheduleRetry(ctx context.Context, stage string, env pipeline.Envelope, cause error) error {
	delay := pipeline.RetryDelay(stage, env.Attempt)
	env.Attempt++

	member, err := encodeDelayed(stage, env)
	if err != nil {
		b.log.Error("Failed to encode retry", "stage", stage, "error", err.Error())
		return err
	}
	due := time.Now().Add(delay)
	if err := b.rdb.ZAdd(ctx, b.delayedKey(), goredis.Z{
		Score:  float64(due.UnixMilli()),
		Member: member,
	}).Err(); err != nil {
		b.log.Error("Failed to schedule retry", "stage", stage, "error", err.Error())
		return err
	}
	b.log.Warn("Stage run deferred to delay set",
		"stage", stage,
		"email_id", env.EmailID,
		"attempt", env.Attempt,
		"delay", delay.String(),
		"error", cause.Error(),
	)
	return nil
}

// delayedLoop moves due retries from the delay set back onto their stage
// streams. ZREM returning zero means another replica already moved the
// entry, in which case the XADD that lost the race is skipped.
func (b *Broker) delayedLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UnixMilli()
		members, err := b.rdb.ZRangeByScore(ctx, b.delayedKey(), &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   fmt.Sprintf("%d", now),
			Count: 100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				b.log.Error("Delayed scan failed", "error", err.Error())
			}
			continue
		}

		for _, member := range members {
			removed, err := b.rdb.ZRem(ctx, b.delayedKey(), member).Result()
			if err != nil || removed == 0 {
				continue
			}
			entry, err := decodeDelayed(member)
			if err != nil {
				b.log.Error("Undecodable delayed entry dropped", "error", err.Error())
				continue
			}
			if err := b.Enqueue(ctx, entry.Stage, entry.Envelope); err != nil {
				b.log.Error("Failed to requeue delayed entry",
					"stage", entry.Stage,
					"error", err.Error(),
				)
			}
		}
	}
}

// reclaimLoop adopts deliveries stuck pending on consumers that died
// mid-handle, so a crashed worker cannot strand an email.
func (b *Broker) reclaimLoop(ctx context.Context, stage string) {
	interval := b.cfg.ReclaimIdle / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stream := b.streamKey(stage)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := "0-0"
		for {
			msgs, next, err := b.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
				Stream:   stream,
				Group:    b.cfg.Group,
				Consumer: b.cfg.Consumer,
				MinIdle:  b.cfg.ReclaimIdle,
				Start:    start,
				Count:    50,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					b.log.Error("Reclaim failed", "stage", stage, "error", err.Error())
				}
				break
			}
			for _, msg := range msgs {
				b.handle(ctx, stage, msg)
			}
			if next == "0-0" || len(msgs) == 0 {
				break
			}
			start = next
		}
	}
}

func (b *Broker) deadLetter(ctx context.Context, stage string, fields map[string]interface{}, cause error) {
	values := map[string]interface{}{
		"stage": stage,
		"error": cause.Error(),
		"at":    time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		values[k] = v
	}
	if err := b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.deadKey(),
		Values: values,
	}).Err(); err != nil {
		b.log.Error("Dead-letter append failed", "stage", stage, "error", err.Error())
	}
}

func (b *Broker) ack(ctx context.Context, stream, id string) {
	if err := b.rdb.XAck(ctx, stream, b.cfg.Group, id).Err(); err != nil && ctx.Err() == nil {
		b.log.Error("Ack failed", "stream", stream, "message_id", id, "error", err.Error())
	}
	if err := b.rdb.XDel(ctx, stream, id).Err(); err != nil && ctx.Err() == nil {
		b.log.Error("Message delete failed", "stream", stream, "message_id", id, "error", err.Error())
	}
}
