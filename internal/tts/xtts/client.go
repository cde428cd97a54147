// Package xtts is a client for the XTTS v2 streaming server API.
//
// The server synthesizes one short piece of text per request using a studio
// speaker profile (a speaker embedding plus a GPT conditioning latent) that
// the client sends along with the text. Profiles are listed by the server
// itself, see StudioSpeakers.
package xtts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// API endpoints.
const (
	apiTTS            = "/tts"
	apiStudioSpeakers = "/studio_speakers"
	apiLanguages      = "/languages"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceError     = "XTTS service error (%s): %s"
	errFmtRequestFailed    = "%w: %s: %w"
	errFmtUnexpectedStatus = "XTTS service returned non-OK status: %s"
	maxErrorBodyBytes      = 4096
)

var (
	// ErrTextEmpty is returned when a synthesis request has no text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrEmptyAudio is returned when the server answers with no audio.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrUnreachable wraps transport failures talking to the server.
	ErrUnreachable = errors.New("XTTS service unreachable")
	// ErrInvalidAudioEncoding is returned when the audio is not valid base64.
	ErrInvalidAudioEncoding = errors.New("audio is not valid base64")
)

// APIError is a non-200 answer from the XTTS server.
type APIError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf(errFmtServiceError, e.Status, e.Detail)
}

// Request is the body of a /tts call.
type Request struct {
	// Text to synthesize. XTTS v2 rejects text above 250 characters.
	Text string `json:"text"`

	// Language is an XTTS language code such as "en" or "zh-cn".
	Language string `json:"language"`

	SpeakerEmbedding json.RawMessage `json:"speaker_embedding"`
	GPTCondLatent    json.RawMessage `json:"gpt_cond_latent"`
}

// Speaker is one entry of the /studio_speakers listing.
type Speaker struct {
	SpeakerEmbedding json.RawMessage `json:"speaker_embedding"`
	GPTCondLatent    json.RawMessage `json:"gpt_cond_latent"`
}

// Client talks to a single XTTS server.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for the server at baseURL (for example
// "http://xtts:80"). The timeout applies to every request on top of any
// deadline carried by the request context.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the server address the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GenerateSpeech synthesizes req.Text and returns a complete WAV container.
//
// The server answers with the container base64 encoded inside a JSON string;
// the decoded bytes are returned.
func (c *Client) GenerateSpeech(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, apiTTS, requestBody)
	if err != nil {
		return nil, err
	}

	audioData, err := decodeAudio(body)
	if err != nil {
		return nil, err
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// StudioSpeakers lists the speaker profiles built into the server, by name.
func (c *Client) StudioSpeakers(ctx context.Context) (map[string]Speaker, error) {
	body, err := c.do(ctx, http.MethodGet, apiStudioSpeakers, nil)
	if err != nil {
		return nil, err
	}

	var speakers map[string]Speaker

	err = json.Unmarshal(body, &speakers)
	if err != nil {
		return nil, fmt.Errorf("failed to decode studio speakers: %w", err)
	}

	return speakers, nil
}

// Languages lists the language codes the server supports.
func (c *Client) Languages(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, apiLanguages, nil)
	if err != nil {
		return nil, err
	}

	var languages []string

	err = json.Unmarshal(body, &languages)
	if err != nil {
		return nil, fmt.Errorf("failed to decode languages: %w", err)
	}

	return languages, nil
}

// HealthCheck verifies the server is up by listing its languages.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Languages(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerAccept, contentTypeJSON)

	if payload != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtRequestFailed, ErrUnreachable, c.baseURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	return body, nil
}

// parseErrorResponse extracts the FastAPI "detail" field when present and
// falls back to the raw body otherwise.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	detail := strings.TrimSpace(string(body))

	if gjson.ValidBytes(body) {
		field := gjson.GetBytes(body, "detail")
		if field.Exists() {
			detail = field.String()
		}
	}

	if detail == "" {
		detail = fmt.Sprintf(errFmtUnexpectedStatus, resp.Status)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Detail:     detail,
	}
}

// decodeAudio accepts the base64 audio either as a JSON string or bare.
func decodeAudio(body []byte) ([]byte, error) {
	encoded := strings.TrimSpace(string(body))

	if strings.HasPrefix(encoded, `"`) {
		var unquoted string

		err := json.Unmarshal([]byte(encoded), &unquoted)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio string: %w", err)
		}

		encoded = unquoted
	}

	audioData, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAudioEncoding, err)
	}

	return audioData, nil
}
