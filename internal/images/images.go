// Package images generates images through LocalAI's Stable Diffusion
// backend, with an SVG placeholder when no backend can serve the request.
package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/tidwall/gjson"

	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/metrics"
	"github.com/book-expert/llm-gateway/internal/upstream"
)

// Providers.
const (
	ProviderLocalAI         = "localai"
	ProviderStableDiffusion = "stable-diffusion"
)

// Defaults and limits.
const (
	DefaultSize      = "1024x1024"
	MaxPromptChars   = 10000
	MaxImages        = 10
	placeholderChars = 50
)

const (
	apiImageGenerations   = "/v1/images/generations"
	logFmtFallback        = "LocalAI image generation failed, using placeholder: %v"
	logFmtPlaceholder     = "Generating placeholder image for prompt of %d characters"
	svgDataURLPrefix      = "data:image/svg+xml;base64,"
	pngDataURLPrefix      = "data:image/png;base64,"
	placeholderSVGPattern = `
<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
  <rect width="100%%" height="100%%" fill="#f0f0f0"/>
  <text x="50%%" y="50%%" font-family="Arial" font-size="24" fill="#666" text-anchor="middle" dy=".3em">
    AI Generated Image
  </text>
  <text x="50%%" y="70%%" font-family="Arial" font-size="16" fill="#999" text-anchor="middle" dy=".3em">
    %s
  </text>
</svg>
`
)

// AllowedSizes are the image sizes a request may ask for.
var AllowedSizes = []string{"256x256", "512x512", "1024x1024", "1792x1024", "1024x1792"}

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid image request")
	// ErrNoImages is returned when LocalAI answers without any image.
	ErrNoImages = errors.New("no images returned from LocalAI")
)

// Request is an image generation request.
type Request struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Size     string `json:"size,omitempty"`
	Quality  string `json:"quality,omitempty"`
	N        *int   `json:"n,omitempty"`
}

// Validate checks the request against the gateway limits.
func (r *Request) Validate() error {
	length := utf8.RuneCountInString(r.Prompt)
	if strings.TrimSpace(r.Prompt) == "" || length > MaxPromptChars {
		return fmt.Errorf("%w: prompt must be between 1 and %d characters", ErrInvalidRequest, MaxPromptChars)
	}

	if r.Size != "" && !slices.Contains(AllowedSizes, r.Size) {
		return fmt.Errorf("%w: size must be one of %s", ErrInvalidRequest, strings.Join(AllowedSizes, ", "))
	}

	if r.N != nil && (*r.N < 1 || *r.N > MaxImages) {
		return fmt.Errorf("%w: n must be between 1 and %d", ErrInvalidRequest, MaxImages)
	}

	return nil
}

// Service generates images.
type Service struct {
	localAI         *upstream.Client
	model           string
	defaultProvider string
	log             *logger.Logger
	metrics         *metrics.Metrics
}

// NewService creates an image service from cfg. m may be nil.
func NewService(cfg config.ImagesConfig, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		localAI:         upstream.New("LocalAI", cfg.LocalAIBaseURL, config.Timeout(cfg.TimeoutSeconds)),
		model:           cfg.Model,
		defaultProvider: cfg.Provider,
		log:             log,
		metrics:         m,
	}
}

// Generate returns image URLs: data URLs or links served by the backend.
// LocalAI failures are logged and answered with a placeholder, so Generate
// only fails for a cancelled context.
func (s *Service) Generate(ctx context.Context, req Request) ([]string, error) {
	size := req.Size
	if size == "" {
		size = DefaultSize
	}

	provider := req.Provider
	if provider == "" {
		provider = s.defaultProvider
	}

	if provider == ProviderLocalAI {
		urls, err := s.generateLocalAI(ctx, req, size)
		if err == nil {
			return urls, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("image generation cancelled: %w", ctx.Err())
		}

		s.metrics.UpstreamError(ProviderLocalAI)
		s.log.Warn(logFmtFallback, err)
	}

	s.log.Info(logFmtPlaceholder, utf8.RuneCountInString(req.Prompt))

	return []string{Placeholder(req.Prompt, size)}, nil
}

func (s *Service) generateLocalAI(ctx context.Context, req Request, size string) ([]string, error) {
	model := req.Model
	if model == "" {
		model = s.model
	}

	count := 1
	if req.N != nil {
		count = *req.N
	}

	result, err := s.localAI.PostJSON(ctx, apiImageGenerations, map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"size":   size,
		"n":      count,
	})
	if err != nil {
		return nil, err
	}

	var urls []string

	result.Get("data").ForEach(func(_, image gjson.Result) bool {
		if encoded := image.Get("b64_json").String(); encoded != "" {
			urls = append(urls, pngDataURLPrefix+encoded)
		} else if url := image.Get("url").String(); url != "" {
			urls = append(urls, url)
		}

		return true
	})

	if len(urls) == 0 {
		return nil, ErrNoImages
	}

	return urls, nil
}

// Placeholder renders a grey SVG of the given size showing the start of the
// prompt, as a base64 data URL.
func Placeholder(prompt, size string) string {
	width, height := parseSize(size)

	caption := prompt
	if utf8.RuneCountInString(caption) > placeholderChars {
		caption = string([]rune(caption)[:placeholderChars]) + "..."
	}

	svg := fmt.Sprintf(placeholderSVGPattern, width, height, html.EscapeString(caption))

	return svgDataURLPrefix + base64.StdEncoding.EncodeToString([]byte(svg))
}

func parseSize(size string) (int, int) {
	widthText, heightText, found := strings.Cut(size, "x")
	if !found {
		widthText, heightText, _ = strings.Cut(DefaultSize, "x")
	}

	width, widthErr := strconv.Atoi(widthText)
	height, heightErr := strconv.Atoi(heightText)

	if widthErr != nil || heightErr != nil {
		return parseSize(DefaultSize)
	}

	return width, height
}
