package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	perrors "github.com/yungbote/mailscope-backend/internal/pkg/errors"
)

// Run dispatches a stage by name. Both backends drive the pipeline through
// this single entry point so stage semantics cannot drift between them.
func (s *Stages) Run(ctx context.Context, stage string, env Envelope) (Outcome, error) {
	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline."+stage,
		trace.WithAttributes(
			attribute.String("pipeline.stage", stage),
			attribute.Int("pipeline.attempt", env.Attempt),
		),
	)
	defer span.End()

	out, err := s.run(ctx, stage, env)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func (s *Stages) run(ctx context.Context, stage string, env Envelope) (Outcome, error) {
	switch stage {
	case StageIngest:
		return s.Ingest(ctx, env)
	case StageProcess:
		return s.Process(ctx, env)
	case StageEmbed:
		return s.Embed(ctx, env)
	case StageIndex:
		return s.Index(ctx, env)
	default:
		return Outcome{}, perrors.Fatal(fmt.Errorf("unknown stage %q", stage))
	}
}

// Disposition is what a backend does with a failed delivery.
type Disposition int

const (
	// DispositionRetry re-enqueues with backoff and attempt+1.
	DispositionRetry Disposition = iota
	// DispositionFail records terminal failure and dead-letters.
	DispositionFail
)

// Classify maps a stage error and its (1-based) attempt number to a
// disposition. Fatal errors never retry; transient ones retry until the
// attempt budget is spent.
func Classify(err error, attempt int) Disposition {
	if perrors.IsFatal(err) {
		return DispositionFail
	}
	if attempt >= MaxAttempts {
		return DispositionFail
	}
	return DispositionRetry
}
