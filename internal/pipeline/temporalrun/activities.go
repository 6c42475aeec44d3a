package temporalrun

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/mailscope-backend/internal/pipeline"
	perrors "github.com/yungbote/mailscope-backend/internal/pkg/errors"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

// Activities adapts the shared stage logic to Temporal. Fatal stage errors
// surface as non-retryable application errors so the server stops retrying
// immediately.
type Activities struct {
	Log    *logger.Logger
	Stages *pipeline.Stages
}

func NewActivities(log *logger.Logger, stages *pipeline.Stages) (*Activities, error) {
	if stages == nil {
		return nil, fmt.Errorf("stages required")
	}
	return &Activities{Log: log, Stages: stages}, nil
}

func (a *Activities) Ingest(ctx context.Context, env pipeline.Envelope) (pipeline.Outcome, error) {
	return a.run(ctx, pipeline.StageIngest, env)
}

func (a *Activities) Process(ctx context.Context, env pipeline.Envelope) (pipeline.Outcome, error) {
	return a.run(ctx, pipeline.StageProcess, env)
}

func (a *Activities) Embed(ctx context.Context, env pipeline.Envelope) (pipeline.Outcome, error) {
	return a.run(ctx, pipeline.StageEmbed, env)
}

func (a *Activities) Index(ctx context.Context, env pipeline.Envelope) (pipeline.Outcome, error) {
	return a.run(ctx, pipeline.StageIndex, env)
}

func (a *Activities) Fail(ctx context.Context, in FailInput) error {
	a.Stages.Fail(ctx, in.Envelope, in.Stage, fmt.Errorf("%s", in.Message))
	return nil
}

func (a *Activities) run(ctx context.Context, stage string, env pipeline.Envelope) (pipeline.Outcome, error) {
	out, err := a.Stages.Run(ctx, stage, env)
	if err != nil && perrors.IsFatal(err) {
		return out, temporal.NewNonRetryableApplicationError(err.Error(), "fatal_pipeline_error", err)
	}
	return out, err
}
