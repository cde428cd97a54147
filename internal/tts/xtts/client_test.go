package xtts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test constants.
const (
	testText       = "Hello, world!"
	testWAV        = "RIFF\x24\x00\x00\x00WAVEfmt "
	testSpeaker    = "Claribel Dervla"
	testEmbedding  = `[0.1,0.2,0.3]`
	testCondLatent = `[[0.4],[0.5]]`
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(server.URL+"/", 5*time.Second)
}

func TestClient_GenerateSpeech_Success(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, apiTTS, r.URL.Path)
		assert.Equal(t, contentTypeJSON, r.Header.Get(headerContentType))

		var req Request

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testText, req.Text)
		assert.Equal(t, "en", req.Language)
		assert.JSONEq(t, testEmbedding, string(req.SpeakerEmbedding))
		assert.JSONEq(t, testCondLatent, string(req.GPTCondLatent))

		encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString([]byte(testWAV)))
		_, _ = w.Write(encoded)
	})

	audioData, err := client.GenerateSpeech(context.Background(), Request{
		Text:             testText,
		Language:         "en",
		SpeakerEmbedding: json.RawMessage(testEmbedding),
		GPTCondLatent:    json.RawMessage(testCondLatent),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(testWAV), audioData)
}

func TestClient_GenerateSpeech_AcceptsBareBase64(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString([]byte(testWAV)) + "\n"))
	})

	audioData, err := client.GenerateSpeech(context.Background(), Request{Text: testText, Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, []byte(testWAV), audioData)
}

func TestClient_GenerateSpeech_EmptyText(t *testing.T) {
	t.Parallel()

	client := New("http://127.0.0.1:1", time.Second)

	_, err := client.GenerateSpeech(context.Background(), Request{Text: "   ", Language: "en"})
	require.ErrorIs(t, err, ErrTextEmpty)
}

func TestClient_GenerateSpeech_EmptyAudio(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`""`))
	})

	_, err := client.GenerateSpeech(context.Background(), Request{Text: testText, Language: "en"})
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestClient_GenerateSpeech_InvalidBase64(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`"%%%not-base64%%%"`))
	})

	_, err := client.GenerateSpeech(context.Background(), Request{Text: testText, Language: "en"})
	require.ErrorIs(t, err, ErrInvalidAudioEncoding)
}

func TestClient_ErrorResponses(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{name: "string detail", status: http.StatusBadRequest, body: `{"detail":"text too long"}`, wantDetail: "text too long"},
		{name: "validation detail", status: http.StatusUnprocessableEntity, body: `{"detail":[{"loc":["body","text"]}]}`, wantDetail: `[{"loc":["body","text"]}]`},
		{name: "plain body", status: http.StatusInternalServerError, body: "CUDA out of memory", wantDetail: "CUDA out of memory"},
		{name: "empty body", status: http.StatusBadGateway, body: "", wantDetail: "XTTS service returned non-OK status: 502 Bad Gateway"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(testCase.status)
				_, _ = w.Write([]byte(testCase.body))
			})

			_, err := client.GenerateSpeech(context.Background(), Request{Text: testText, Language: "en"})

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, testCase.status, apiErr.StatusCode)
			assert.Equal(t, testCase.wantDetail, apiErr.Detail)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := New(url, time.Second)

	_, err := client.GenerateSpeech(context.Background(), Request{Text: testText, Language: "en"})
	require.ErrorIs(t, err, ErrUnreachable)

	err = client.HealthCheck(context.Background())
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestClient_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := newTestServer(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GenerateSpeech(ctx, Request{Text: testText, Language: "en"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestClient_StudioSpeakers(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, apiStudioSpeakers, r.URL.Path)

		_, _ = w.Write([]byte(`{"` + testSpeaker + `":{"speaker_embedding":` + testEmbedding +
			`,"gpt_cond_latent":` + testCondLatent + `}}`))
	})

	speakers, err := client.StudioSpeakers(context.Background())
	require.NoError(t, err)
	require.Contains(t, speakers, testSpeaker)
	assert.JSONEq(t, testEmbedding, string(speakers[testSpeaker].SpeakerEmbedding))
	assert.JSONEq(t, testCondLatent, string(speakers[testSpeaker].GPTCondLatent))
}

func TestClient_LanguagesAndHealth(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiLanguages, r.URL.Path)
		_, _ = w.Write([]byte(`["en","pl","zh-cn"]`))
	})

	languages, err := client.Languages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "pl", "zh-cn"}, languages)

	require.NoError(t, client.HealthCheck(context.Background()))
}
