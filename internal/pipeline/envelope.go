package pipeline

import "github.com/google/uuid"

// Stage names double as broker stream suffixes and activity names.
const (
	StageIngest  = "ingest"
	StageProcess = "process"
	StageEmbed   = "embed"
	StageIndex   = "index"
)

// StageOrder is the linear run for one email. Persist is folded into the
// tail of Embed so vectors never travel through the transport.
var StageOrder = []string{StageIngest, StageProcess, StageEmbed, StageIndex}

// NextStage returns the stage after the given one, or false at the tail.
func NextStage(stage string) (string, bool) {
	for i, s := range StageOrder {
		if s == stage && i+1 < len(StageOrder) {
			return StageOrder[i+1], true
		}
	}
	return "", false
}

// Envelope is the transient per-message state. Everything else lives in
// Postgres so any replica can pick a stage up from the stored row.
type Envelope struct {
	UserID  uuid.UUID `json:"user_id"`
	EmailID uuid.UUID `json:"email_id"`
	// MessageID is the provider id; only ingest needs it (the email row may
	// not exist yet when ingest runs).
	MessageID string `json:"message_id,omitempty"`
	FolderID  string `json:"folder_id,omitempty"`
	Attempt   int    `json:"attempt"`
	// TraceContext carries W3C traceparent/tracestate across the transport.
	TraceContext map[string]string `json:"trace_context,omitempty"`
}
