// Package chat forwards chat completions to a local LLM backend, either
// Ollama or LocalAI's OpenAI compatible API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/tidwall/gjson"

	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/metrics"
	"github.com/book-expert/llm-gateway/internal/upstream"
)

// Providers.
const (
	ProviderOllama  = "ollama"
	ProviderLocalAI = "localai"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Defaults and limits.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
	MaxContentChars    = 100000
	MaxTokensLimit     = 100000
	MaxTemperature     = 2.0

	defaultOllamaModel  = "llama2"
	defaultLocalAIModel = "gpt-3.5-turbo"

	ollamaTopP          = 0.9
	ollamaTopK          = 40
	ollamaRepeatPenalty = 1.1
)

const (
	apiOllamaChat   = "/api/chat"
	apiLocalAIChat  = "/v1/chat/completions"
	logFmtCompleted = "Chat completion via %s (%s): %d messages in, %d characters out"
)

var (
	// ErrUnsupportedProvider is returned for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported chat provider")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid chat request")
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request. Nil Temperature and MaxTokens use the
// defaults.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Response is the assistant's answer.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Validate checks the request against the gateway limits.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must be a non-empty array", ErrInvalidRequest)
	}

	for i, message := range r.Messages {
		switch message.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: messages[%d].role must be system, user or assistant", ErrInvalidRequest, i)
		}

		if strings.TrimSpace(message.Content) == "" {
			return fmt.Errorf("%w: messages[%d].content is required", ErrInvalidRequest, i)
		}

		if len([]rune(message.Content)) > MaxContentChars {
			return fmt.Errorf("%w: messages[%d].content exceeds %d characters", ErrInvalidRequest, i, MaxContentChars)
		}
	}

	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > MaxTemperature) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidRequest)
	}

	if r.MaxTokens != nil && (*r.MaxTokens < 1 || *r.MaxTokens > MaxTokensLimit) {
		return fmt.Errorf("%w: max_tokens must be between 1 and %d", ErrInvalidRequest, MaxTokensLimit)
	}

	switch r.Provider {
	case "", ProviderOllama, ProviderLocalAI:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedProvider, r.Provider)
	}

	return nil
}

// Service routes chat requests to the configured providers.
type Service struct {
	ollama          *upstream.Client
	localAI         *upstream.Client
	defaultProvider string
	defaultModel    string
	log             *logger.Logger
	metrics         *metrics.Metrics
}

// NewService creates a chat service from cfg. m may be nil.
func NewService(cfg config.ChatConfig, log *logger.Logger, m *metrics.Metrics) *Service {
	timeout := config.Timeout(cfg.TimeoutSeconds)

	return &Service{
		ollama:          upstream.New("Ollama", cfg.OllamaBaseURL, timeout),
		localAI:         upstream.New("LocalAI", cfg.LocalAIBaseURL, timeout),
		defaultProvider: cfg.Provider,
		defaultModel:    cfg.DefaultModel,
		log:             log,
		metrics:         m,
	}
}

// Complete runs one chat completion.
func (s *Service) Complete(ctx context.Context, req Request) (*Response, error) {
	provider := req.Provider
	if provider == "" {
		provider = s.defaultProvider
	}

	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	var (
		resp *Response
		err  error
	)

	switch provider {
	case ProviderOllama:
		resp, err = s.completeOllama(ctx, s.model(req.Model, defaultOllamaModel), req.Messages, temperature, maxTokens)
	case ProviderLocalAI:
		resp, err = s.completeLocalAI(ctx, s.model(req.Model, defaultLocalAIModel), req.Messages, temperature, maxTokens)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}

	if err != nil {
		s.metrics.UpstreamError(provider)

		return nil, err
	}

	s.log.Info(logFmtCompleted, provider, resp.Model, len(req.Messages), len(resp.Content))

	return resp, nil
}

func (s *Service) model(requested, providerDefault string) string {
	switch {
	case requested != "":
		return requested
	case s.defaultModel != "":
		return s.defaultModel
	default:
		return providerDefault
	}
}

// completeOllama lifts the system message into Ollama's "system" field and
// sends the rest of the conversation as messages.
func (s *Service) completeOllama(
	ctx context.Context,
	model string,
	messages []Message,
	temperature float64,
	maxTokens int,
) (*Response, error) {
	var (
		system       string
		conversation = make([]Message, 0, len(messages))
	)

	for _, message := range messages {
		if message.Role == RoleSystem {
			if system == "" {
				system = message.Content
			}

			continue
		}

		conversation = append(conversation, message)
	}

	payload := map[string]any{
		"model":    model,
		"messages": conversation,
		"stream":   false,
		"options": map[string]any{
			"temperature":    temperature,
			"num_predict":    maxTokens,
			"top_p":          ollamaTopP,
			"top_k":          ollamaTopK,
			"repeat_penalty": ollamaRepeatPenalty,
		},
	}

	if system != "" {
		payload["system"] = system
	}

	result, err := s.ollama.PostJSON(ctx, apiOllamaChat, payload)
	if err != nil {
		return nil, err
	}

	return &Response{
		Content: result.Get("message.content").String(),
		Model:   stringOr(result.Get("model"), model),
		Usage: Usage{
			PromptTokens:     result.Get("prompt_eval_count").Int(),
			CompletionTokens: result.Get("eval_count").Int(),
			TotalTokens:      result.Get("prompt_eval_count").Int() + result.Get("eval_count").Int(),
		},
	}, nil
}

func (s *Service) completeLocalAI(
	ctx context.Context,
	model string,
	messages []Message,
	temperature float64,
	maxTokens int,
) (*Response, error) {
	result, err := s.localAI.PostJSON(ctx, apiLocalAIChat, map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &Response{
		Content: result.Get("choices.0.message.content").String(),
		Model:   stringOr(result.Get("model"), model),
		Usage: Usage{
			PromptTokens:     result.Get("usage.prompt_tokens").Int(),
			CompletionTokens: result.Get("usage.completion_tokens").Int(),
			TotalTokens:      result.Get("usage.total_tokens").Int(),
		},
	}, nil
}

func stringOr(value gjson.Result, fallback string) string {
	if value.String() == "" {
		return fallback
	}

	return value.String()
}
