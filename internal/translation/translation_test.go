package translation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/translation"
	"github.com/book-expert/llm-gateway/internal/upstream"
)

// fakeLibreTranslate upper-cases text and reports every detection as Polish.
func fakeLibreTranslate(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /translate", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text", body["format"])

		if body["q"] == "fail" {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"translatedText":   strings.ToUpper(body["q"]),
			"detectedLanguage": map[string]any{"language": "pl", "confidence": 92.5},
		})
	})
	mux.HandleFunc("POST /detect", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"language":"pl","confidence":88.0},{"language":"en","confidence":10.0}]`))
	})
	mux.HandleFunc("GET /languages", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"code":"en","name":"English"},{"code":"pl","name":"Polish"}]`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func newService(t *testing.T, baseURL string) *translation.Service {
	t.Helper()

	cfg := config.Default().Translation
	cfg.BaseURL = baseURL

	testLogger, err := logger.New(t.TempDir(), "translation-test.log")
	require.NoError(t, err)

	return translation.NewService(cfg, testLogger, nil)
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	service := newService(t, fakeLibreTranslate(t, &calls).URL)

	result, err := service.Translate(context.Background(), translation.Request{
		Text: "dzień dobry", Source: translation.SourceAuto, Target: "en",
	})
	require.NoError(t, err)

	assert.Equal(t, "DZIEŃ DOBRY", result.TranslatedText)
	assert.Equal(t, "pl", result.DetectedLanguage)
	assert.InDelta(t, 92.5, result.Confidence, 1e-9)
}

func TestTranslate_SameLanguageShortCircuits(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	service := newService(t, fakeLibreTranslate(t, &calls).URL)

	result, err := service.Translate(context.Background(), translation.Request{Text: "hello", Source: "en", Target: "en"})
	require.NoError(t, err)

	assert.Equal(t, "hello", result.TranslatedText)
	assert.Zero(t, calls.Load())
}

func TestTranslate_EmptyText(t *testing.T) {
	t.Parallel()

	_, err := newService(t, "http://127.0.0.1:1").Translate(context.Background(), translation.Request{Text: " "})
	require.ErrorIs(t, err, translation.ErrTextRequired)
}

func TestBatch_PreservesOrder(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	service := newService(t, fakeLibreTranslate(t, &calls).URL)

	texts := []string{"one", "two", "three", "four", "five", "six"}

	results, err := service.Batch(context.Background(), translation.BatchRequest{Texts: texts, Source: "pl", Target: "en"})
	require.NoError(t, err)
	require.Len(t, results, len(texts))

	for i, text := range texts {
		assert.Equal(t, strings.ToUpper(text), results[i].TranslatedText)
	}

	assert.Equal(t, int32(len(texts)), calls.Load())
}

func TestBatch_FailsAsAWhole(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	service := newService(t, fakeLibreTranslate(t, &calls).URL)

	_, err := service.Batch(context.Background(), translation.BatchRequest{
		Texts: []string{"ok", "fail", "ok"}, Source: "pl", Target: "en",
	})

	var upstreamErr *upstream.Error
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusInternalServerError, upstreamErr.StatusCode)
}

func TestDetectAndLanguages(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	service := newService(t, fakeLibreTranslate(t, &calls).URL)

	detection, err := service.Detect(context.Background(), "dzień dobry")
	require.NoError(t, err)
	assert.Equal(t, translation.Detection{Language: "pl", Confidence: 88}, *detection)

	languages, err := service.Languages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []translation.Language{{Code: "en", Name: "English"}, {Code: "pl", Name: "Polish"}}, languages)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, (&translation.Request{Text: "x", Source: "auto", Target: "pl"}).Validate())
	require.ErrorIs(t, (&translation.Request{Text: "", Source: "en", Target: "pl"}).Validate(), translation.ErrTextRequired)
	require.ErrorIs(t, (&translation.Request{Text: "x", Source: "en", Target: "de"}).Validate(), translation.ErrInvalidRequest)
	require.ErrorIs(t, (&translation.Request{Text: "x", Source: "de", Target: "en"}).Validate(), translation.ErrInvalidRequest)

	tooMany := make([]string, translation.MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = "x"
	}

	require.ErrorIs(t, (&translation.BatchRequest{Texts: tooMany, Source: "en", Target: "pl"}).Validate(), translation.ErrInvalidRequest)
	require.ErrorIs(t, (&translation.BatchRequest{Source: "en", Target: "pl"}).Validate(), translation.ErrInvalidRequest)
	require.NoError(t, (&translation.BatchRequest{Texts: []string{"a"}, Source: "auto", Target: "en"}).Validate())
}
