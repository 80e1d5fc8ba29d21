package worker

import (
	"context"
	"encoding/json"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

// NatsNotifier publishes a JobStatusEvent for every finished job.
type NatsNotifier struct {
	natsConnection *nats.Conn
	subject        string
	log            *logger.Logger
}

// NewNatsNotifier creates a notifier publishing on subject.
func NewNatsNotifier(natsConnection *nats.Conn, subject string, log *logger.Logger) *NatsNotifier {
	return &NatsNotifier{natsConnection: natsConnection, subject: subject, log: log}
}

// JobFinished publishes the state of job. Failures are logged.
func (n *NatsNotifier) JobFinished(_ context.Context, job *core.SynthesisJob, engineName string) {
	event := JobStatusEvent{
		Header:    newHeader(job.ID, job.UserID),
		JobID:     job.ID,
		TextID:    job.TextID,
		Status:    job.Status,
		URL:       job.URL,
		Duration:  job.Duration,
		Segments:  len(job.Segments),
		Engine:    engineName,
		Error:     job.Error,
		ErrorCode: job.ErrorCode,
	}

	data, err := json.Marshal(event)
	if err != nil {
		n.log.Error("Failed to marshal status event for job %s: %v", job.ID, err)

		return
	}

	err = n.natsConnection.Publish(n.subject, data)
	if err != nil {
		n.log.Error("Failed to publish status event for job %s: %v", job.ID, err)
	}
}
