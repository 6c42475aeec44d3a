package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	perrors "github.com/yungbote/mailscope-backend/internal/pkg/errors"
)

func TestClassifyTransientRetriesUntilBudgetSpent(t *testing.T) {
	err := fmt.Errorf("connection reset")
	for attempt := 1; attempt < MaxAttempts; attempt++ {
		if got := Classify(err, attempt); got != DispositionRetry {
			t.Fatalf("attempt %d: want retry got %v", attempt, got)
		}
	}
	if got := Classify(err, MaxAttempts); got != DispositionFail {
		t.Fatalf("attempt %d: want fail got %v", MaxAttempts, got)
	}
}

func TestClassifyFatalFailsImmediately(t *testing.T) {
	err := perrors.Fatalf("body cannot be represented")
	if got := Classify(err, 1); got != DispositionFail {
		t.Fatalf("fatal on first attempt: want fail got %v", got)
	}
}

func TestClassifyWrappedFatal(t *testing.T) {
	err := fmt.Errorf("embed: %w", perrors.Fatalf("over budget"))
	if got := Classify(err, 2); got != DispositionFail {
		t.Fatalf("wrapped fatal: want fail got %v", got)
	}
}

func TestRunRoutesByStageName(t *testing.T) {
	h := newHarness(t)
	// A missing message id only trips the ingest guard, so reaching it
	// proves the dispatch landed on the right stage.
	_, err := h.stages.Run(context.Background(), StageIngest, Envelope{UserID: uuid.New()})
	if !perrors.IsFatal(err) {
		t.Fatalf("want ingest guard, got %v", err)
	}
}

func TestRunRejectsUnknownStage(t *testing.T) {
	h := newHarness(t)
	_, err := h.stages.Run(context.Background(), "publish", Envelope{})
	if !perrors.IsFatal(err) {
		t.Fatalf("unknown stage: want fatal got %v", err)
	}
}
