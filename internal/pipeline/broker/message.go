package broker

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/yungbote/mailscope-backend/internal/pipeline"
)

const (
	fieldEnvelope = "envelope"
	fieldAttempt  = "attempt"
)

// delayedEntry is one scheduled redelivery sitting in the delay set until
// its due time passes.
type delayedEntry struct {
	Stage    string            `json:"stage"`
	Envelope pipeline.Envelope `json:"envelope"`
}

func encodeFields(env pipeline.Envelope) (map[string]interface{}, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return map[string]interface{}{
		fieldEnvelope: string(raw),
		// Attempt rides alongside the blob so redis-cli inspection shows it
		// without decoding.
		fieldAttempt: strconv.Itoa(env.Attempt),
	}, nil
}

func decodeFields(values map[string]interface{}) (pipeline.Envelope, error) {
	var env pipeline.Envelope
	raw, ok := values[fieldEnvelope].(string)
	if !ok || raw == "" {
		return env, fmt.Errorf("message has no envelope field")
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Attempt < 1 {
		env.Attempt = 1
	}
	return env, nil
}

func encodeDelayed(stage string, env pipeline.Envelope) (string, error) {
	raw, err := json.Marshal(delayedEntry{Stage: stage, Envelope: env})
	if err != nil {
		return "", fmt.Errorf("encode delayed entry: %w", err)
	}
	return string(raw), nil
}

func decodeDelayed(member string) (delayedEntry, error) {
	var entry delayedEntry
	if err := json.Unmarshal([]byte(member), &entry); err != nil {
		return entry, fmt.Errorf("decode delayed entry: %w", err)
	}
	return entry, nil
}
