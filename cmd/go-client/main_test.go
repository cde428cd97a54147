package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/tts"
	"github.com/book-expert/llm-gateway/internal/tts/speakers"
	"github.com/book-expert/llm-gateway/internal/tts/xtts"
)

const wavHeaderLen = 44

// TestMainFlags verifies that command-line flags are parsed correctly.
func TestMainFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want appFlags
	}{
		{
			name: "text flag parsing",
			args: []string{"--text", "Hello, world!"},
			want: appFlags{text: "Hello, world!", output: defaultOutputFile},
		},
		{
			name: "chunks with voice selection",
			args: []string{"--chunks", "pages.json", "--output", "book.wav", "--speaker", "Ana Florence", "--language", "es"},
			want: appFlags{
				chunks:   "pages.json",
				output:   "book.wav",
				speaker:  "Ana Florence",
				language: "es",
			},
		},
		{
			name: "health against another server",
			args: []string{"--health", "--url", "http://xtts:8020", "--verbose"},
			want: appFlags{output: defaultOutputFile, url: "http://xtts:8020", health: true, verbose: true},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			flags := parseFlags(flag.NewFlagSet(testCase.name, flag.ContinueOnError), testCase.args)
			assert.Equal(t, testCase.want, flags)
		})
	}
}

// TestArgumentValidation verifies required and conflicting arguments.
func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   appFlags
		wantErr error
	}{
		{name: "success with text flag", flags: appFlags{text: "some text"}, wantErr: nil},
		{name: "success with chunks flag", flags: appFlags{chunks: "file.json"}, wantErr: nil},
		{
			name:    "error with both flags",
			flags:   appFlags{text: "some text", chunks: "file.json"},
			wantErr: errCannotSpecifyBoth,
		},
		{name: "error with no flags", flags: appFlags{}, wantErr: errEitherTextOrChunks},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateArgumentsOnly(testCase.flags)
			if testCase.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestLoadConfig_URLOverride(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(appFlags{url: "http://localhost:8020"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8020", cfg.TTS.URL)
	assert.Equal(t, config.DefaultSpeaker, cfg.TTS.DefaultSpeaker)

	_, err = loadConfig(appFlags{config: filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
}

func wavFor(payload []byte) []byte {
	buf := new(bytes.Buffer)
	write := func(v any) { _ = binary.Write(buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	write(uint32(wavHeaderLen - 8 + len(payload)))
	buf.WriteString("WAVEfmt ")
	write(uint32(16))
	write(uint16(1))
	write(uint16(1))
	write(uint32(24000))
	write(uint32(48000))
	write(uint16(2))
	write(uint16(16))
	buf.WriteString("data")
	write(uint32(len(payload)))
	buf.Write(payload)

	return buf.Bytes()
}

// newEngine returns an engine backed by a fake XTTS server that answers every
// call with two samples of silence.
func newEngine(t *testing.T) *tts.Engine {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /studio_speakers", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			config.DefaultSpeaker: map[string]any{"speaker_embedding": []float64{0.1}, "gpt_cond_latent": [][]float64{{0.2}}},
		})
	})
	mux.HandleFunc("POST /tts", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(base64.StdEncoding.EncodeToString(wavFor([]byte{0, 0, 0, 0})))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	clientLog, err := logger.New(t.TempDir(), "client-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientLog.Close() })

	cfg := config.Default()
	client := xtts.New(server.URL, cfg.TTS.ChunkTimeout())

	return tts.NewEngine(cfg.TTS, client, speakers.NewCache(client, clientLog), clientLog)
}

func TestHandleExecution(t *testing.T) {
	t.Parallel()

	engine := newEngine(t)
	clientLog, err := logger.New(t.TempDir(), "client-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientLog.Close() })

	dir := t.TempDir()

	textOutput := filepath.Join(dir, "text", "hello.wav")
	err = handleExecution(context.Background(), engine, clientLog, appFlags{text: "Hello there.", output: textOutput})
	require.NoError(t, err)

	data, err := os.ReadFile(textOutput)
	require.NoError(t, err)
	assert.Equal(t, wavFor([]byte{0, 0, 0, 0}), data)

	chunksFile := filepath.Join(dir, "pages.json")
	require.NoError(t, os.WriteFile(chunksFile, []byte(`["First page.", "Second page."]`), 0o600))

	chunksOutput := filepath.Join(dir, "book.wav")
	err = handleExecution(context.Background(), engine, clientLog, appFlags{chunks: chunksFile, output: chunksOutput})
	require.NoError(t, err)

	data, err = os.ReadFile(chunksOutput)
	require.NoError(t, err)
	assert.Equal(t, wavFor(make([]byte, 8)), data, "two chunks are spliced into one container")
}
