package broker

import (
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/mailscope-backend/internal/pipeline"
)

func TestEncodeDecodeFields(t *testing.T) {
	env := pipeline.Envelope{
		UserID:    uuid.New(),
		EmailID:   uuid.New(),
		MessageID: "msg-1",
		Attempt:   3,
		TraceContext: map[string]string{
			"traceparent": "00-abc-def-01",
		},
	}

	fields, err := encodeFields(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if fields[fieldAttempt] != "3" {
		t.Fatalf("attempt field: want=3 got=%v", fields[fieldAttempt])
	}

	got, err := decodeFields(map[string]interface{}{
		fieldEnvelope: fields[fieldEnvelope],
		fieldAttempt:  fields[fieldAttempt],
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != env.UserID || got.EmailID != env.EmailID {
		t.Fatalf("ids lost in roundtrip: %+v", got)
	}
	if got.Attempt != 3 {
		t.Fatalf("attempt: want=3 got=%d", got.Attempt)
	}
	if got.TraceContext["traceparent"] != "00-abc-def-01" {
		t.Fatalf("trace context lost: %+v", got.TraceContext)
	}
}

func TestDecodeFieldsNormalizesAttempt(t *testing.T) {
	fields, err := encodeFields(pipeline.Envelope{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeFields(map[string]interface{}{fieldEnvelope: fields[fieldEnvelope]})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Attempt != 1 {
		t.Fatalf("zero attempt should normalize to 1, got %d", got.Attempt)
	}
}

func TestDecodeFieldsRejectsMissingEnvelope(t *testing.T) {
	if _, err := decodeFields(map[string]interface{}{"other": "x"}); err == nil {
		t.Fatalf("want error for missing envelope field")
	}
}

func TestDelayedEntryRoundtrip(t *testing.T) {
	env := pipeline.Envelope{UserID: uuid.New(), EmailID: uuid.New(), Attempt: 2}
	member, err := encodeDelayed(pipeline.StageEmbed, env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	entry, err := decodeDelayed(member)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Stage != pipeline.StageEmbed {
		t.Fatalf("stage: want=%s got=%s", pipeline.StageEmbed, entry.Stage)
	}
	if entry.Envelope.EmailID != env.EmailID || entry.Envelope.Attempt != 2 {
		t.Fatalf("envelope lost: %+v", entry.Envelope)
	}
}
