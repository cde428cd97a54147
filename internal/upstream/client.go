// Package upstream is the JSON-over-HTTP plumbing shared by the gateway's
// provider clients (chat, images, translation).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
	maxErrorBodyBytes = 4096
)

var (
	// ErrUnreachable wraps transport failures.
	ErrUnreachable = errors.New("provider unreachable")
	// ErrInvalidResponse is returned when a 200 answer is not JSON.
	ErrInvalidResponse = errors.New("provider returned invalid JSON")
)

// Error is a non-2xx answer from a provider.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s API error: %d %s", e.Provider, e.StatusCode, e.Body)
}

// Client sends JSON requests to one provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	provider   string
}

// New creates a client for the provider named provider at baseURL.
func New(provider, baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		provider:   provider,
	}
}

// Provider returns the provider name used in errors and metrics.
func (c *Client) Provider() string {
	return c.provider
}

// PostJSON sends payload as JSON to path and returns the parsed answer.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to marshal %s request: %w", c.provider, err)
	}

	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body))
}

// GetJSON fetches path and returns the parsed answer.
func (c *Client) GetJSON(ctx context.Context, path string) (gjson.Result, error) {
	return c.do(ctx, http.MethodGet, path, http.NoBody)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create %s request: %w", c.provider, err)
	}

	if method == http.MethodPost {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s at %s: %w", ErrUnreachable, c.provider, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return gjson.Result{}, &Error{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errorBody)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read %s response: %w", c.provider, err)
	}

	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%w: %s %s", ErrInvalidResponse, c.provider, path)
	}

	return gjson.ParseBytes(data), nil
}
