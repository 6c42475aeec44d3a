package temporalrun

import (
	"fmt"
	"strings"

	"github.com/yungbote/mailscope-backend/internal/pipeline"
)

const (
	WorkflowName = "email_pipeline"

	activityPrefix = "email_pipeline_"
	ActivityFail   = "email_pipeline_fail"
)

func ActivityName(stage string) string { return activityPrefix + stage }

// WorkflowID derives a deterministic id so a second trigger for the same
// email deduplicates against the running workflow instead of racing it.
func WorkflowID(env pipeline.Envelope) string {
	key := env.EmailID.String()
	if strings.TrimSpace(env.MessageID) != "" {
		// Ingest-triggered runs may predate the email row; the provider
		// message id is the stable key in that window.
		key = env.MessageID
	}
	return fmt.Sprintf("email-pipeline/%s/%s", env.UserID, key)
}

// FailInput carries the terminal failure record to the bookkeeping activity.
type FailInput struct {
	Envelope pipeline.Envelope `json:"envelope"`
	Stage    string            `json:"stage"`
	Message  string            `json:"message"`
}
