package temporalrun

import (
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/mailscope-backend/internal/pipeline"
)

func TestWorkflowIDPrefersMessageID(t *testing.T) {
	userID := uuid.New()
	env := pipeline.Envelope{UserID: userID, EmailID: uuid.New(), MessageID: "msg-1"}
	want := "email-pipeline/" + userID.String() + "/msg-1"
	if got := WorkflowID(env); got != want {
		t.Fatalf("workflow id: want=%s got=%s", want, got)
	}
}

func TestWorkflowIDFallsBackToEmailID(t *testing.T) {
	userID := uuid.New()
	emailID := uuid.New()
	env := pipeline.Envelope{UserID: userID, EmailID: emailID}
	want := "email-pipeline/" + userID.String() + "/" + emailID.String()
	if got := WorkflowID(env); got != want {
		t.Fatalf("workflow id: want=%s got=%s", want, got)
	}
}

func TestActivityNames(t *testing.T) {
	if got := ActivityName(pipeline.StageEmbed); got != "email_pipeline_embed" {
		t.Fatalf("activity name: got=%s", got)
	}
}
