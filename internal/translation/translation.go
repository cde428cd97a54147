// Package translation is a LibreTranslate client for English and Polish
// content.
package translation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/book-expert/logger"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/metrics"
	"github.com/book-expert/llm-gateway/internal/upstream"
)

const (
	provider = "libretranslate"

	apiTranslate = "/translate"
	apiDetect    = "/detect"
	apiLanguages = "/languages"

	// SourceAuto asks LibreTranslate to detect the source language.
	SourceAuto = "auto"
	// MaxBatchSize bounds the texts of one batch request.
	MaxBatchSize = 100

	logFmtTranslate = "Translation request: %s -> %s, text length=%d"
)

// TargetLanguages are the languages the gateway translates into.
var TargetLanguages = []string{"en", "pl"}

var (
	// ErrTextRequired is returned for empty input.
	ErrTextRequired = errors.New("text is required")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid translation request")
	// ErrNotDetected is returned when detection yields no language.
	ErrNotDetected = errors.New("could not detect language")
)

// Request is a single translation.
type Request struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// BatchRequest translates many texts with one language pair.
type BatchRequest struct {
	Texts  []string `json:"texts"`
	Source string   `json:"source"`
	Target string   `json:"target"`
}

// Result is a translated text.
type Result struct {
	TranslatedText   string  `json:"translatedText"`
	DetectedLanguage string  `json:"detectedLanguage,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
}

// Detection is a detected language.
type Detection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Language is a supported language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Validate checks the request against the gateway limits.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrTextRequired
	}

	return validatePair(r.Source, r.Target)
}

// Validate checks the request against the gateway limits.
func (r *BatchRequest) Validate() error {
	if len(r.Texts) == 0 || len(r.Texts) > MaxBatchSize {
		return fmt.Errorf("%w: texts must hold 1 to %d items", ErrInvalidRequest, MaxBatchSize)
	}

	for i, text := range r.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: texts[%d] is empty", ErrInvalidRequest, i)
		}
	}

	return validatePair(r.Source, r.Target)
}

func validatePair(source, target string) error {
	if !slices.Contains(TargetLanguages, target) {
		return fmt.Errorf("%w: target must be en or pl", ErrInvalidRequest)
	}

	if source != SourceAuto && !slices.Contains(TargetLanguages, source) {
		return fmt.Errorf("%w: source must be en, pl or auto", ErrInvalidRequest)
	}

	return nil
}

// Service translates through LibreTranslate.
type Service struct {
	client       *upstream.Client
	apiKey       string
	batchWorkers int
	log          *logger.Logger
	metrics      *metrics.Metrics
}

// NewService creates a translation service from cfg. m may be nil.
func NewService(cfg config.TranslationConfig, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		client:       upstream.New("Translation", cfg.BaseURL, config.Timeout(cfg.TimeoutSeconds)),
		apiKey:       cfg.APIKey,
		batchWorkers: max(cfg.BatchWorkers, 1),
		log:          log,
		metrics:      m,
	}
}

// Translate translates one text. A request whose source equals its target is
// answered without calling the backend.
func (s *Service) Translate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextRequired
	}

	if req.Source != SourceAuto && req.Source == req.Target {
		return &Result{TranslatedText: req.Text}, nil
	}

	s.log.Info(logFmtTranslate, req.Source, req.Target, len(req.Text))

	result, err := s.client.PostJSON(ctx, apiTranslate, s.withKey(map[string]any{
		"q":      req.Text,
		"source": req.Source,
		"target": req.Target,
		"format": "text",
	}))
	if err != nil {
		s.metrics.UpstreamError(provider)

		return nil, err
	}

	return &Result{
		TranslatedText:   result.Get("translatedText").String(),
		DetectedLanguage: result.Get("detectedLanguage.language").String(),
		Confidence:       result.Get("detectedLanguage.confidence").Float(),
	}, nil
}

// Batch translates every text concurrently; results keep the input order.
// Any failure fails the whole batch.
func (s *Service) Batch(ctx context.Context, req BatchRequest) ([]Result, error) {
	results := make([]Result, len(req.Texts))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.batchWorkers)

	for index, text := range req.Texts {
		group.Go(func() error {
			result, err := s.Translate(groupCtx, Request{Text: text, Source: req.Source, Target: req.Target})
			if err != nil {
				return fmt.Errorf("text %d: %w", index, err)
			}

			results[index] = *result

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, err
	}

	return results, nil
}

// Detect returns the most likely language of text.
func (s *Service) Detect(ctx context.Context, text string) (*Detection, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextRequired
	}

	result, err := s.client.PostJSON(ctx, apiDetect, s.withKey(map[string]any{"q": text}))
	if err != nil {
		s.metrics.UpstreamError(provider)

		return nil, err
	}

	best := result.Get("0")
	if !best.Exists() || best.Get("language").String() == "" {
		return nil, ErrNotDetected
	}

	return &Detection{
		Language:   best.Get("language").String(),
		Confidence: best.Get("confidence").Float(),
	}, nil
}

// Languages lists the languages the backend supports.
func (s *Service) Languages(ctx context.Context) ([]Language, error) {
	result, err := s.client.GetJSON(ctx, apiLanguages)
	if err != nil {
		s.metrics.UpstreamError(provider)

		return nil, err
	}

	var languages []Language

	result.ForEach(func(_, language gjson.Result) bool {
		languages = append(languages, Language{
			Code: language.Get("code").String(),
			Name: language.Get("name").String(),
		})

		return true
	})

	return languages, nil
}

func (s *Service) withKey(payload map[string]any) map[string]any {
	if s.apiKey != "" {
		payload["api_key"] = s.apiKey
	}

	return payload
}
