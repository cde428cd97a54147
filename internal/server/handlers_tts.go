package server

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/llm-gateway/internal/auth"
	"github.com/book-expert/llm-gateway/internal/core"
	"github.com/book-expert/llm-gateway/internal/tts"
	"github.com/book-expert/llm-gateway/internal/tts/speakers"
	"github.com/book-expert/llm-gateway/internal/tts/xtts"
)

const (
	minSpeed = 0.5
	maxSpeed = 2.0

	headerChunks        = "X-TTS-Chunks"
	headerSkippedChunks = "X-TTS-Skipped-Chunks"
	contentTypeWAV      = "audio/wav"

	titleSpeechFailed      = "Failed to generate speech"
	titleSpeechUnavailable = "TTS service unavailable"
	titleSpeechTimeout     = "TTS generation timed out"

	msgTextRequired     = "Text is required and must be a string"
	msgLanguageRequired = "Language is required"
	msgSpeedRange       = "Speed must be between 0.5 and 2.0"
)

// fallbackVoices are listed when the XTTS speaker listing is unreachable.
var fallbackVoices = []string{
	"Claribel Dervla",
	"Daisy Studious",
	"Gracie Wise",
	"Tammie Ema",
	"Alison Dietlinde",
}

type synthesizeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Speaker  string   `json:"speaker"`
	Voice    string   `json:"voice"`
	Speed    *float64 `json:"speed"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	problem := s.validateSpeech(&req)
	if problem != "" {
		s.respondError(w, http.StatusBadRequest, titleValidation, problem)

		return
	}

	speaker := req.Speaker
	if speaker == "" {
		speaker = req.Voice
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		s.log.Info("TTS request from %s: %d characters", claims.Username, utf8.RuneCountInString(req.Text))
	}

	result, err := s.speech.Synthesize(r.Context(), core.SpeechRequest{
		Text:     req.Text,
		Language: req.Language,
		Speaker:  speaker,
	})
	if err != nil {
		s.respondSpeechError(w, err)

		return
	}

	w.Header().Set("Content-Type", contentTypeWAV)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio)))
	w.Header().Set(headerChunks, strconv.Itoa(result.Chunks))
	w.Header().Set(headerSkippedChunks, strconv.Itoa(len(result.Skipped)))
	w.WriteHeader(http.StatusOK)

	_, err = w.Write(result.Audio)
	if err != nil {
		s.log.Warn("Failed to write audio response: %v", err)
	}
}

// validateSpeech returns a client-facing problem, or "" for a valid request.
func (s *Server) validateSpeech(req *synthesizeRequest) string {
	if strings.TrimSpace(req.Text) == "" {
		return msgTextRequired
	}

	limit := s.cfg.TTS.MaxTextChars
	if utf8.RuneCountInString(req.Text) > limit {
		return fmt.Sprintf("Text too long (max %d characters)", limit)
	}

	if req.Language == "" {
		return msgLanguageRequired
	}

	if !slices.Contains(s.cfg.TTS.Languages, req.Language) {
		return fmt.Sprintf("Unsupported language %q. Supported languages: %s",
			req.Language, strings.Join(s.cfg.TTS.Languages, ", "))
	}

	if req.Speed != nil && (*req.Speed < minSpeed || *req.Speed > maxSpeed) {
		return msgSpeedRange
	}

	return ""
}

func (s *Server) respondSpeechError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tts.ErrTextEmpty),
		errors.Is(err, tts.ErrTextTooLong),
		errors.Is(err, tts.ErrUnsupportedLanguage),
		errors.Is(err, speakers.ErrSpeakerNotFound):
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))
	case errors.Is(err, tts.ErrChunkTimeout):
		s.log.Error("%s: %v", titleSpeechTimeout, err)
		s.respondError(w, http.StatusGatewayTimeout, titleSpeechTimeout, sentence(err))
	case errors.Is(err, xtts.ErrUnreachable):
		s.log.Error("%s: %v", titleSpeechUnavailable, err)
		s.respondError(w, http.StatusServiceUnavailable, titleSpeechUnavailable, sentence(err))
	default:
		s.respondInternal(w, titleSpeechFailed, err)
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	names, err := s.voices.Names(r.Context())
	if err != nil || len(names) == 0 {
		s.log.Warn("Speaker listing unavailable, serving fallback voices: %v", err)
		s.respondJSON(w, fallbackVoices, http.StatusOK)

		return
	}

	s.respondJSON(w, names, http.StatusOK)
}
