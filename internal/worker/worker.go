// Package worker provides a NATS worker that turns processed text pages into
// speech for the book pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/llm-gateway/internal/core"
	"github.com/book-expert/llm-gateway/internal/tts/text"
)

const (
	defaultJobTimeout = 10 * time.Minute
	audioKeySuffix    = ".wav"
	maxDeliver        = 5
)

var (
	// ErrSubjectEmpty indicates that the job subject is empty.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrTextKeyEmpty indicates that a job names no text object.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrTextEmpty indicates that the downloaded text object holds only whitespace.
	ErrTextEmpty = errors.New("text object is empty")
	// ErrJetStreamRequired indicates a stream was configured without a JetStream handle.
	ErrJetStreamRequired = errors.New("jetstream handle is required when a stream is configured")
)

// Config controls where the worker takes jobs from and where it announces results.
type Config struct {
	// Subject carries events.TextProcessedEvent jobs.
	Subject string
	// ReplySubject receives events.AudioChunkCreatedEvent when a job has no reply inbox.
	ReplySubject string
	// Stream and Consumer select durable JetStream delivery. With an empty
	// Stream the worker uses a core NATS queue subscription named by Consumer.
	Stream   string
	Consumer string
	// Language is passed to the synthesizer for every job.
	Language   string
	JobTimeout time.Duration
}

// NatsWorker listens for TTS jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	js             jetstream.JetStream
	cfg            Config
	texts          core.ObjectStore
	audio          core.ObjectStore
	synth          core.Synthesizer
	log            *logger.Logger

	sub        *nats.Subscription
	consumeCtx jetstream.ConsumeContext
}

// NewNatsWorker creates a new instance of a NATS worker. js may be nil when
// cfg.Stream is empty.
func NewNatsWorker(
	natsConnection *nats.Conn,
	js jetstream.JetStream,
	cfg Config,
	texts core.ObjectStore,
	audio core.ObjectStore,
	synth core.Synthesizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if cfg.Stream != "" && js == nil {
		return nil, ErrJetStreamRequired
	}

	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		js:             js,
		cfg:            cfg,
		texts:          texts,
		audio:          audio,
		synth:          synth,
		log:            log,
		sub:            nil,
		consumeCtx:     nil,
	}, nil
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	err := w.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()

	return w.Stop()
}

// Start subscribes to the job subject and returns once jobs are being
// received. With a stream configured it first ensures the stream and the
// durable consumer exist.
func (w *NatsWorker) Start(ctx context.Context) error {
	if w.cfg.Stream != "" {
		return w.startJetStream(ctx)
	}

	sub, err := w.natsConnection.QueueSubscribe(w.cfg.Subject, w.cfg.Consumer, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	err = w.natsConnection.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush subscription: %w", err)
	}

	w.sub = sub
	w.log.Info("Worker listening on %s", w.cfg.Subject)

	return nil
}

// Stop drains in-flight jobs and unsubscribes.
func (w *NatsWorker) Stop() error {
	if w.consumeCtx != nil {
		w.consumeCtx.Drain()
		<-w.consumeCtx.Closed()
		w.consumeCtx = nil
	}

	if w.sub != nil {
		err := w.sub.Drain()
		w.sub = nil

		if err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}

	return nil
}

func (w *NatsWorker) startJetStream(ctx context.Context) error {
	stream, err := w.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     w.cfg.Stream,
		Subjects: []string{w.cfg.Subject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", w.cfg.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       w.cfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       w.cfg.JobTimeout,
		MaxDeliver:    maxDeliver,
		FilterSubject: w.cfg.Subject,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure consumer %s: %w", w.cfg.Consumer, err)
	}

	consumeCtx, err := consumer.Consume(w.handleJetStreamMessage)
	if err != nil {
		return fmt.Errorf("failed to consume from stream %s: %w", w.cfg.Stream, err)
	}

	w.consumeCtx = consumeCtx
	w.log.Info("Worker consuming %s from stream %s as %s", w.cfg.Subject, w.cfg.Stream, w.cfg.Consumer)

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	reply, err := w.process(msg.Data)
	if err != nil {
		w.log.Error("Failed to process TTS job: %v", err)

		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
	} else {
		err = w.announce(replyData)
	}

	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) handleJetStreamMessage(msg jetstream.Msg) {
	reply, err := w.process(msg.Data())
	if err != nil {
		w.log.Error("Failed to process TTS job from %s: %v", msg.Subject(), err)
		w.settle(msg, err)

		return
	}

	replyData, err := json.Marshal(reply)
	if err == nil {
		err = w.announce(replyData)
	}

	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
		w.settle(msg, err)

		return
	}

	ackErr := msg.Ack()
	if ackErr != nil {
		w.log.Warn("Failed to ack job for workflow %s: %v", reply.Header.WorkflowID, ackErr)
	}
}

// settle terminates jobs that can never succeed and asks for redelivery of the rest.
func (w *NatsWorker) settle(msg jetstream.Msg, cause error) {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	permanent := errors.As(cause, &syntaxErr) ||
		errors.As(cause, &typeErr) ||
		errors.Is(cause, ErrTextKeyEmpty) ||
		errors.Is(cause, ErrTextEmpty)

	var err error
	if permanent {
		err = msg.Term()
	} else {
		err = msg.Nak()
	}

	if err != nil {
		w.log.Warn("Failed to settle job from %s: %v", msg.Subject(), err)
	}
}

func (w *NatsWorker) announce(data []byte) error {
	if w.cfg.ReplySubject == "" {
		return nil
	}

	err := w.natsConnection.Publish(w.cfg.ReplySubject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", w.cfg.ReplySubject, err)
	}

	return nil
}

// process downloads the page text, normalizes and synthesizes it, and
// uploads the audio.
func (w *NatsWorker) process(data []byte) (*events.AudioChunkCreatedEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	page := text.NormalizePage(string(textData))
	if page == "" {
		return nil, fmt.Errorf("%w: %s", ErrTextEmpty, event.TextKey)
	}

	started := time.Now()

	result, err := w.synth.Synthesize(ctx, core.SpeechRequest{
		Text:     page,
		Language: w.cfg.Language,
		Speaker:  event.Voice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize page %d of workflow %s: %w",
			event.PageNumber, event.Header.WorkflowID, err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.audio.Upload(ctx, audioKey, result.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Page %d/%d of workflow %s synthesized in %s: %d chunks, %d skipped, key %s",
		event.PageNumber, event.TotalPages, event.Header.WorkflowID,
		time.Since(started).Round(time.Millisecond), result.Chunks, len(result.Skipped), audioKey)

	return &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}, nil
}
