package pipeline

import (
	"testing"
	"time"
)

func TestRetryDelayJitterBounds(t *testing.T) {
	cases := []struct {
		name    string
		stage   string
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{"first attempt", StageProcess, 1, 24 * time.Second, 36 * time.Second},
		{"fourth attempt", StageEmbed, 4, 192 * time.Second, 288 * time.Second},
		{"ingest uses slower base", StageIngest, 1, 48 * time.Second, 72 * time.Second},
		{"deep attempt clamps at ceiling", StageProcess, 20, 24 * time.Minute, 36 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				d := RetryDelay(tc.stage, tc.attempt)
				if d < tc.min || d > tc.max {
					t.Fatalf("delay out of range: want=[%v,%v] got=%v", tc.min, tc.max, d)
				}
			}
		})
	}
}

func TestRetryDelayNormalizesBadAttempt(t *testing.T) {
	d := RetryDelay(StageProcess, 0)
	if d < 24*time.Second || d > 36*time.Second {
		t.Fatalf("attempt 0 should behave like attempt 1: got=%v", d)
	}
}

func TestStageTimeout(t *testing.T) {
	if got := StageTimeout(StageProcess); got != LLMStageTimeout {
		t.Fatalf("process timeout: want=%v got=%v", LLMStageTimeout, got)
	}
	if got := StageTimeout(StageEmbed); got != LLMStageTimeout {
		t.Fatalf("embed timeout: want=%v got=%v", LLMStageTimeout, got)
	}
	if got := StageTimeout(StageIngest); got != CheapStageTimeout {
		t.Fatalf("ingest timeout: want=%v got=%v", CheapStageTimeout, got)
	}
	if got := StageTimeout(StageIndex); got != CheapStageTimeout {
		t.Fatalf("index timeout: want=%v got=%v", CheapStageTimeout, got)
	}
}

func TestNextStage(t *testing.T) {
	pairs := map[string]string{
		StageIngest:  StageProcess,
		StageProcess: StageEmbed,
		StageEmbed:   StageIndex,
	}
	for from, want := range pairs {
		got, ok := NextStage(from)
		if !ok || got != want {
			t.Fatalf("NextStage(%s): want=%s got=%s ok=%v", from, want, got, ok)
		}
	}
	if _, ok := NextStage(StageIndex); ok {
		t.Fatalf("index should be the final stage")
	}
}
