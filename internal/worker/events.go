package worker

import (
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/events"
	"github.com/google/uuid"
)

// Reply statuses of a synthesis request.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// SynthesisRequestedEvent asks the service to synthesize a stored text.
type SynthesisRequestedEvent struct {
	Header     events.EventHeader `json:"header"`
	TextID     string             `json:"text_id"`
	Voice      string             `json:"voice_model,omitempty"`
	Format     string             `json:"format,omitempty"`
	SampleRate int                `json:"sample_rate,omitempty"`
}

// SynthesisAcceptedEvent is the reply to a SynthesisRequestedEvent.
type SynthesisAcceptedEvent struct {
	Header    events.EventHeader `json:"header"`
	Status    string             `json:"status"`
	JobID     string             `json:"job_id,omitempty"`
	JobStatus core.JobStatus     `json:"job_status,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// JobStatusEvent announces that a job reached a terminal state.
type JobStatusEvent struct {
	Header    events.EventHeader `json:"header"`
	JobID     string             `json:"job_id"`
	TextID    string             `json:"text_id"`
	Status    core.JobStatus     `json:"status"`
	URL       string             `json:"url,omitempty"`
	Duration  float64            `json:"duration"`
	Segments  int                `json:"segments"`
	Engine    string             `json:"engine,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorCode core.FailureCode   `json:"error_code,omitempty"`
}

func newHeader(workflowID, userID string) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     userID,
	}
}
