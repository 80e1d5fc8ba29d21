// Package worker connects the pipeline to NATS: it accepts synthesis requests
// and publishes the final status of every job.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 30 * time.Second

// ErrUserMissing indicates a request without a user in its header.
var ErrUserMissing = errors.New("event header carries no user id")

// Submitter starts synthesis jobs.
type Submitter interface {
	Submit(ctx context.Context, req core.TTSRequest, requester core.Requester) (*core.SynthesisJob, error)
}

// NatsWorker listens for synthesis requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queue          string
	submitter      Submitter
	log            *logger.Logger
}

// NewNatsWorker creates a worker. An empty queue subscribes without a queue group.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject, queue string,
	submitter Submitter,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queue:          queue,
		submitter:      submitter,
		log:            log,
	}
}

// Run subscribes and handles messages until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.queue == "" {
		sub, err = w.natsConnection.Subscribe(w.subject, w.handleMessage)
	} else {
		sub, err = w.natsConnection.QueueSubscribe(w.subject, w.queue, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for synthesis requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)
		w.respond(msg, &SynthesisAcceptedEvent{Header: newHeader("", ""), Status: StatusRejected, Error: err.Error()})

		return
	}

	reply := &SynthesisAcceptedEvent{Header: event.Header}
	reply.Header.EventID = uuid.NewString()

	job, submitErr := w.submitter.Submit(ctx, core.TTSRequest{
		TextID:     event.TextID,
		Voice:      event.Voice,
		Format:     event.Format,
		SampleRate: event.SampleRate,
	}, core.Requester{UserID: event.Header.UserID})
	if submitErr != nil {
		w.log.Error("Failed to submit text %s for workflow %s: %v", event.TextID, event.Header.WorkflowID, submitErr)

		reply.Status = StatusRejected
		reply.Error = submitErr.Error()
	} else {
		reply.Status = StatusAccepted
		reply.JobID = job.ID
		reply.JobStatus = job.Status
	}

	w.respond(msg, reply)
}

func (w *NatsWorker) respond(msg *nats.Msg, reply *SynthesisAcceptedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*SynthesisRequestedEvent, error) {
	var event SynthesisRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextID == "" {
		return nil, fmt.Errorf("%w: text_id is required", core.ErrInvalidRequest)
	}

	if event.Header.UserID == "" {
		return nil, ErrUserMissing
	}

	return &event, nil
}
