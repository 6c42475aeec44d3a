package temporalrun

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/mailscope-backend/internal/pipeline"
)

// Workflow runs one email through the stages in order. Retries live in the
// per-activity policies; when a stage's budget is spent (or the error is
// non-retryable) the failure is recorded once and the workflow ends.
func Workflow(ctx workflow.Context, env pipeline.Envelope) error {
	for _, stage := range pipeline.StageOrder {
		actx := workflow.WithActivityOptions(ctx, activityOptions(stage))

		var out pipeline.Outcome
		if err := workflow.ExecuteActivity(actx, ActivityName(stage), env).Get(actx, &out); err != nil {
			recordFailure(ctx, env, stage, err)
			return fmt.Errorf("pipeline failed at %s: %w", stage, err)
		}
		if !out.Proceed {
			return nil
		}
		env.EmailID = out.EmailID
	}
	return nil
}

func activityOptions(stage string) workflow.ActivityOptions {
	// The model-backed stages get a longer leash; the cheap ones fail fast.
	policy := &temporal.RetryPolicy{
		InitialInterval:    30 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    3,
	}
	switch stage {
	case pipeline.StageProcess, pipeline.StageEmbed:
		policy = &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Minute,
			MaximumAttempts:    5,
		}
	case pipeline.StageIngest:
		policy.InitialInterval = 60 * time.Second
		policy.MaximumInterval = 60 * time.Second
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: pipeline.StageTimeout(stage),
		RetryPolicy:         policy,
	}
}

func recordFailure(ctx workflow.Context, env pipeline.Envelope, stage string, cause error) {
	fctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 3,
		},
	})
	in := FailInput{Envelope: env, Stage: stage, Message: cause.Error()}
	if err := workflow.ExecuteActivity(fctx, ActivityFail, in).Get(fctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("Failed to record pipeline failure",
			"stage", stage,
			"error", err,
		)
	}
}
