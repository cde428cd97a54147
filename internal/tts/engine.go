// Package tts orchestrates text-to-speech generation against an XTTS server.
//
// XTTS accepts only short texts per request, so the Engine splits long input
// into sentence-aligned chunks, synthesizes them concurrently with a shared
// speaker profile and splices the resulting WAV containers back together in
// chunk order.
package tts

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/core"
	"github.com/book-expert/llm-gateway/internal/metrics"
	"github.com/book-expert/llm-gateway/internal/tts/audio"
	"github.com/book-expert/llm-gateway/internal/tts/speakers"
	"github.com/book-expert/llm-gateway/internal/tts/text"
	"github.com/book-expert/llm-gateway/internal/tts/xtts"
)

const (
	tracerName = "github.com/book-expert/llm-gateway/internal/tts"

	// File and directory permissions.
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// Static errors.
var (
	ErrTextEmpty           = errors.New("text cannot be empty")
	ErrTextTooLong         = errors.New("text is too long")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrChunkTimeout        = errors.New("chunk synthesis timed out")
	ErrChunksPathEmpty     = errors.New("chunks path cannot be empty")
	ErrOutputPathEmpty     = errors.New("output path cannot be empty")
	ErrNoChunksFound       = errors.New("no chunks found")
)

const (
	logFmtSynthesisStarted = "Synthesizing %d chunk(s) with speaker %q (%s)"
	logFmtChunkFailed      = "Chunk %d/%d failed: %v"
	logFmtSkippedChunks    = "Left %d malformed audio container(s) out of the output: chunks %v"
	logFmtSynthesisDone    = "Synthesized %d chunk(s) into %d bytes in %s"
	logFmtGeneratedAudio   = "Generated audio: %s (%d bytes)"
	errFmtChunkFailed      = "chunk %d/%d failed: %v"
	errFmtTextTooLong      = "%w: %d characters, limit is %d"
)

// SynthesisError reports the chunk that made a request fail.
type SynthesisError struct {
	// Index is the zero-based chunk index.
	Index int
	// Total is the number of chunks in the request.
	Total int
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf(errFmtChunkFailed, e.Index+1, e.Total, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// ChunkSynthesizer synthesizes a single chunk. *xtts.Client satisfies it.
type ChunkSynthesizer interface {
	GenerateSpeech(ctx context.Context, req xtts.Request) ([]byte, error)
}

// ProfileSource resolves speaker names. *speakers.Cache satisfies it.
type ProfileSource interface {
	Get(ctx context.Context, name string) (speakers.Profile, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithChunkTimeout overrides the per-chunk timeout from the configuration.
// A non-positive value disables it.
func WithChunkTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.chunkTimeout = timeout
	}
}

// WithMetrics records synthesis metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine implements core.Synthesizer on top of an XTTS server.
type Engine struct {
	client   ChunkSynthesizer
	profiles ProfileSource
	config   config.TTSServiceConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	chunkTimeout time.Duration
}

// NewEngine creates an engine. Chunks of one request are synthesized by at
// most cfg.Workers concurrent calls, each bounded by cfg.ChunkTimeout.
func NewEngine(
	cfg config.TTSServiceConfig,
	client ChunkSynthesizer,
	profiles ProfileSource,
	log *logger.Logger,
	opts ...Option,
) *Engine {
	engine := &Engine{
		client:   client,
		profiles: profiles,
		config:   cfg,
		logger:   log,
		metrics:  nil,
		tracer:   otel.Tracer(tracerName),

		chunkTimeout: cfg.ChunkTimeout(),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Synthesize turns req.Text into a single WAV container.
//
// Text that fits one chunk is synthesized with one call. Longer text is split
// with text.SplitIntoChunks and every chunk is synthesized with the same
// speaker profile. The first failing chunk cancels the others and fails the
// request with a *SynthesisError; no partial audio is returned.
func (e *Engine) Synthesize(ctx context.Context, req core.SpeechRequest) (*core.SpeechResult, error) {
	speaker := cmp.Or(req.Speaker, e.config.DefaultSpeaker)
	language := cmp.Or(req.Language, e.config.DefaultLanguage)

	err := e.validate(req.Text, language)
	if err != nil {
		e.metrics.ObserveSynthesis(metrics.OutcomeFailure, 0, 0)

		return nil, err
	}

	return e.run(ctx, text.SplitIntoChunks(req.Text, e.config.MaxChunkChars), speaker, language)
}

// run synthesizes prepared chunks and records the outcome.
func (e *Engine) run(ctx context.Context, chunks []string, speaker, language string) (*core.SpeechResult, error) {
	start := time.Now()

	result, err := e.render(ctx, chunks, speaker, language)
	if err != nil {
		e.metrics.ObserveSynthesis(metrics.OutcomeFailure, 0, time.Since(start))

		return nil, err
	}

	e.metrics.ObserveSynthesis(metrics.OutcomeSuccess, len(result.Skipped), time.Since(start))
	e.logger.Info(logFmtSynthesisDone, result.Chunks, len(result.Audio), time.Since(start).Round(time.Millisecond))

	return result, nil
}

func (e *Engine) render(ctx context.Context, chunks []string, speaker, language string) (*core.SpeechResult, error) {
	ctx, span := e.tracer.Start(ctx, "tts.Synthesize", trace.WithAttributes(
		attribute.String("tts.speaker", speaker),
		attribute.String("tts.language", language),
		attribute.Int("tts.chunks", len(chunks)),
	))
	defer span.End()

	profile, err := e.profiles.Get(ctx, speaker)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to resolve speaker: %w", err))
	}

	e.logger.Info(logFmtSynthesisStarted, len(chunks), speaker, language)

	containers, err := e.synthesizeChunks(ctx, chunks, language, profile)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	if len(containers) == 1 {
		return &core.SpeechResult{Audio: containers[0], Chunks: 1, Skipped: nil}, nil
	}

	spliced, err := audio.Splice(containers)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("failed to splice audio: %w", err))
	}

	if len(spliced.Skipped) > 0 {
		e.logger.Warn(logFmtSkippedChunks, len(spliced.Skipped), spliced.Skipped)
		span.SetAttributes(attribute.Int("tts.skipped_chunks", len(spliced.Skipped)))
	}

	return &core.SpeechResult{
		Audio:   spliced.Data,
		Chunks:  len(chunks),
		Skipped: spliced.Skipped,
	}, nil
}

func (e *Engine) validate(input, language string) error {
	if strings.TrimSpace(input) == "" {
		return ErrTextEmpty
	}

	length := utf8.RuneCountInString(input)
	if e.config.MaxTextChars > 0 && length > e.config.MaxTextChars {
		return fmt.Errorf(errFmtTextTooLong, ErrTextTooLong, length, e.config.MaxTextChars)
	}

	if len(e.config.Languages) > 0 && !slices.Contains(e.config.Languages, language) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	return nil
}

// synthesizeChunks runs one synthesis call per chunk under a bounded worker
// count. Results are stored by chunk index, so the output order never depends
// on completion order.
func (e *Engine) synthesizeChunks(
	ctx context.Context,
	chunks []string,
	language string,
	profile speakers.Profile,
) ([][]byte, error) {
	containers := make([][]byte, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(e.config.Workers, 1))

	for index, chunk := range chunks {
		group.Go(func() error {
			container, err := e.synthesizeChunk(groupCtx, index, len(chunks), chunk, language, profile)
			if err != nil {
				return &SynthesisError{Index: index, Total: len(chunks), Err: err}
			}

			containers[index] = container

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, err
	}

	return containers, nil
}

func (e *Engine) synthesizeChunk(
	ctx context.Context,
	index, total int,
	chunk, language string,
	profile speakers.Profile,
) ([]byte, error) {
	// A sibling already failed; do not start another call.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	ctx, span := e.tracer.Start(ctx, "tts.SynthesizeChunk", trace.WithAttributes(
		attribute.Int("tts.chunk_index", index),
		attribute.Int("tts.chunk_chars", utf8.RuneCountInString(chunk)),
	))
	defer span.End()

	timeout := e.chunkTimeout
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()

	container, err := e.client.GenerateSpeech(ctx, xtts.Request{
		Text:             chunk,
		Language:         language,
		SpeakerEmbedding: profile.SpeakerEmbedding,
		GPTCondLatent:    profile.GPTCondLatent,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrChunkTimeout, timeout, err)
		}

		if !errors.Is(err, context.Canceled) {
			e.metrics.UpstreamError("xtts")
			e.logger.Error(logFmtChunkFailed, index+1, total, err)
		}

		return nil, recordSpanError(span, err)
	}

	e.metrics.ObserveChunk(time.Since(start))

	return container, nil
}

// SynthesizeChunksFile reads a JSON array of texts from chunksPath,
// synthesizes them in order as one request and writes the WAV container to
// outputPath. Texts longer than the chunk limit are split further.
func (e *Engine) SynthesizeChunksFile(ctx context.Context, chunksPath, outputPath, speaker, language string) error {
	if chunksPath == "" {
		return ErrChunksPathEmpty
	}

	if outputPath == "" {
		return ErrOutputPathEmpty
	}

	texts, err := readChunksFile(chunksPath)
	if err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}

	language = cmp.Or(language, e.config.DefaultLanguage)

	var chunks []string

	for _, entry := range texts {
		validateErr := e.validate(entry, language)
		if validateErr != nil {
			return validateErr
		}

		chunks = append(chunks, text.SplitIntoChunks(strings.TrimSpace(entry), e.config.MaxChunkChars)...)
	}

	result, err := e.run(ctx, chunks, cmp.Or(speaker, e.config.DefaultSpeaker), language)
	if err != nil {
		return err
	}

	return e.writeAudio(outputPath, result.Audio)
}

// SynthesizeToFile synthesizes req and writes the WAV container to outputPath,
// creating parent directories as needed.
func (e *Engine) SynthesizeToFile(ctx context.Context, req core.SpeechRequest, outputPath string) error {
	if outputPath == "" {
		return ErrOutputPathEmpty
	}

	result, err := e.Synthesize(ctx, req)
	if err != nil {
		return err
	}

	return e.writeAudio(outputPath, result.Audio)
}

func (e *Engine) writeAudio(outputPath string, audioData []byte) error {
	err := os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	err = os.WriteFile(outputPath, audioData, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	e.logger.Info(logFmtGeneratedAudio, outputPath, len(audioData))

	return nil
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}
