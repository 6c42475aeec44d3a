package pipeline

import (
	"math/rand"
	"time"
)

const (
	// MaxAttempts counts deliveries, not retries: the sixth failure is final.
	MaxAttempts = 6

	baseDelay       = 30 * time.Second
	ingestBaseDelay = 60 * time.Second
	minDelay        = 15 * time.Second
	maxDelay        = 30 * time.Minute

	// Wall-clock budgets backends apply per stage invocation.
	CheapStageTimeout = 1 * time.Minute
	LLMStageTimeout   = 5 * time.Minute
)

// StageTimeout returns the wall-clock budget for one invocation of a stage.
func StageTimeout(stage string) time.Duration {
	switch stage {
	case StageProcess, StageEmbed:
		return LLMStageTimeout
	default:
		return CheapStageTimeout
	}
}

// RetryDelay computes the backoff before redelivery of the given attempt
// (1-based). Exponential from the stage's base delay, clamped, with ±20%
// jitter so synchronized failures spread out.
func RetryDelay(stage string, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := baseDelay
	if stage == StageIngest {
		base = ingestBaseDelay
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if delay < minDelay {
		delay = minDelay
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(delay) * jitter)
}
