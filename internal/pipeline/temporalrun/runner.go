package temporalrun

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/mailscope-backend/internal/pipeline"
	"github.com/yungbote/mailscope-backend/internal/platform/envutil"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
	"github.com/yungbote/mailscope-backend/internal/platform/temporalx"
)

// Runner hosts the pipeline workflow and activities on one task queue.
type Runner struct {
	log        *logger.Logger
	tc         temporalsdkclient.Client
	activities *Activities
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, activities *Activities) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if activities == nil {
		return nil, fmt.Errorf("activities required")
	}
	return &Runner{log: log, tc: tc, activities: activities}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker",
			"namespace", cfg.Namespace,
			"task_queue", cfg.TaskQueue,
		)
	}

	maxWait := envutil.DurationSeconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)
	backoff := envutil.DurationMillis("TEMPORAL_WORKER_START_BACKOFF_MS", 250)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := r.newWorker(cfg.TaskQueue)
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			if r.log != nil {
				r.log.Info("Temporal worker started", "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}

		w.Stop()
		if time.Now().After(deadline) {
			return fmt.Errorf("temporal worker start: %w", startErr)
		}
		if r.log != nil {
			r.log.Warn("Temporal worker start failed; retrying",
				"attempt", attempt,
				"error", startErr,
			)
		}
		time.Sleep(backoff)
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (r *Runner) newWorker(taskQueue string) worker.Worker {
	w := worker.New(r.tc, taskQueue, worker.Options{})

	w.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(r.activities.Ingest, activity.RegisterOptions{Name: ActivityName(pipeline.StageIngest)})
	w.RegisterActivityWithOptions(r.activities.Process, activity.RegisterOptions{Name: ActivityName(pipeline.StageProcess)})
	w.RegisterActivityWithOptions(r.activities.Embed, activity.RegisterOptions{Name: ActivityName(pipeline.StageEmbed)})
	w.RegisterActivityWithOptions(r.activities.Index, activity.RegisterOptions{Name: ActivityName(pipeline.StageIndex)})
	w.RegisterActivityWithOptions(r.activities.Fail, activity.RegisterOptions{Name: ActivityFail})
	return w
}

// StartPipeline launches (or deduplicates against) the workflow for one
// email.
func StartPipeline(ctx context.Context, tc temporalsdkclient.Client, env pipeline.Envelope) error {
	if tc == nil {
		return fmt.Errorf("temporal client is not configured")
	}
	cfg := temporalx.LoadConfig()
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:        WorkflowID(env),
		TaskQueue: cfg.TaskQueue,
	}
	if _, err := tc.ExecuteWorkflow(ctx, opts, WorkflowName, env); err != nil {
		return fmt.Errorf("start pipeline workflow: %w", err)
	}
	return nil
}
