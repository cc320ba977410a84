// Package worker provides a NATS worker that turns processed text pages into audio.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/pipeline"
)

const handleMessageTimeout = 5 * time.Minute

var (
	// ErrTextKeyEmpty indicates that the event names no text object.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrTextEmpty indicates that the downloaded text object holds no text.
	ErrTextEmpty = errors.New("text object is empty")
)

// Synthesizer is the pipeline surface the worker needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.SynthesisRequest) (*pipeline.Result, error)
}

// Store reads source text objects and stores synthesized audio artifacts.
type Store interface {
	core.ObjectStore
	core.ArtifactStore
}

// Options are the per-job synthesis settings not carried by the event.
type Options struct {
	QueueGroup   string
	// EventSubject, when set, also receives every AudioChunkCreatedEvent.
	EventSubject string
	SampleRate   int
	Denoise      bool
}

// NatsWorker listens for TextProcessedEvents and replies with AudioChunkCreatedEvents.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          Store
	synth          Synthesizer
	opts           Options
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store Store,
	synth Synthesizer,
	opts Options,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synth:          synth,
		opts:           opts,
		log:            log,
	}, nil
}

// Run subscribes and processes messages until ctx is done, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.opts.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.subject, w.opts.QueueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for jobs on subject: %s", w.subject)

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

		return
	}

	audioKey, processErr := w.processTTSJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process TTS job for workflow %s page %d: %v", event.Header.WorkflowID, event.PageNumber, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     w.replyHeader(event.Header),
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processTTSJob downloads the page text, synthesizes it and stores the audio.
func (w *NatsWorker) processTTSJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	text := strings.TrimSpace(string(textData))
	if text == "" {
		return "", fmt.Errorf("%w: key '%s'", ErrTextEmpty, event.TextKey)
	}

	result, err := w.synth.Synthesize(ctx, core.SynthesisRequest{
		Text:       text,
		Voice:      event.Voice,
		SampleRate: w.opts.SampleRate,
		Denoise:    w.opts.Denoise,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize page %d: %w", event.PageNumber, err)
	}

	audioKey := uuid.NewString() + ".wav"

	ref, err := w.store.Write(ctx, result.Samples, audioKey)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Stored %.2fs of audio for workflow %s page %d/%d as %s",
		result.Samples.Seconds(), event.Header.WorkflowID, event.PageNumber, event.TotalPages, ref.Name)

	return ref.Name, nil
}

func (w *NatsWorker) replyHeader(in events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: in.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     in.UserID,
		TenantID:   in.TenantID,
	}
}

// publishReplyEvent marshals the AudioChunkCreatedEvent, responds to the
// requester and publishes it on the event subject.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
		if err != nil {
			return fmt.Errorf("failed to publish reply event: %w", err)
		}
	}

	if w.opts.EventSubject != "" {
		err = w.natsConnection.Publish(w.opts.EventSubject, replyData)
		if err != nil {
			return fmt.Errorf("failed to publish event on %s: %w", w.opts.EventSubject, err)
		}
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
