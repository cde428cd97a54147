package server

import (
	"errors"
	"net/http"

	"github.com/book-expert/llm-gateway/internal/chat"
	"github.com/book-expert/llm-gateway/internal/images"
	"github.com/book-expert/llm-gateway/internal/translation"
)

const (
	titleChatFailed      = "Failed to generate chat completion"
	titleImagesFailed    = "Failed to generate image"
	titleTranslateFailed = "Translation failed"
	titleBatchFailed     = "Batch translation failed"
	titleDetectFailed    = "Language detection failed"
	titleLanguagesFailed = "Failed to fetch supported languages"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !s.decodeJSON(w, r, &req) {
		return
	}

	err := req.Validate()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))

		return
	}

	resp, err := s.chat.Complete(r.Context(), req)
	if errors.Is(err, chat.ErrUnsupportedProvider) {
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))

		return
	}

	if err != nil {
		s.respondInternal(w, titleChatFailed, err)

		return
	}

	s.respondJSON(w, resp, http.StatusOK)
}

type imagesResponse struct {
	Images []string `json:"images"`
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	var req images.Request
	if !s.decodeJSON(w, r, &req) {
		return
	}

	err := req.Validate()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))

		return
	}

	urls, err := s.images.Generate(r.Context(), req)
	if err != nil {
		s.respondInternal(w, titleImagesFailed, err)

		return
	}

	s.respondJSON(w, imagesResponse{Images: urls}, http.StatusOK)
}

type translateResponse struct {
	Success     bool    `json:"success"`
	Translation string  `json:"translation"`
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Confidence  float64 `json:"confidence,omitempty"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translation.Request
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.Source == "" {
		req.Source = translation.SourceAuto
	}

	err := req.Validate()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))

		return
	}

	result, err := s.translator.Translate(r.Context(), req)
	if err != nil {
		s.respondInternal(w, titleTranslateFailed, err)

		return
	}

	source := req.Source
	if result.DetectedLanguage != "" {
		source = result.DetectedLanguage
	}

	s.respondJSON(w, translateResponse{
		Success:     true,
		Translation: result.TranslatedText,
		Source:      source,
		Target:      req.Target,
		Confidence:  result.Confidence,
	}, http.StatusOK)
}

type batchResponse struct {
	Success      bool     `json:"success"`
	Translations []string `json:"translations"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
}

func (s *Server) handleTranslateBatch(w http.ResponseWriter, r *http.Request) {
	var req translation.BatchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.Source == "" {
		req.Source = translation.SourceAuto
	}

	err := req.Validate()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))

		return
	}

	results, err := s.translator.Batch(r.Context(), req)
	if err != nil {
		s.respondInternal(w, titleBatchFailed, err)

		return
	}

	translations := make([]string, len(results))
	for i, result := range results {
		translations[i] = result.TranslatedText
	}

	s.respondJSON(w, batchResponse{
		Success:      true,
		Translations: translations,
		Source:       req.Source,
		Target:       req.Target,
	}, http.StatusOK)
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	Success    bool    `json:"success"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	detection, err := s.translator.Detect(r.Context(), req.Text)
	if errors.Is(err, translation.ErrTextRequired) {
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))

		return
	}

	if err != nil {
		s.respondInternal(w, titleDetectFailed, err)

		return
	}

	s.respondJSON(w, detectResponse{
		Success:    true,
		Language:   detection.Language,
		Confidence: detection.Confidence,
	}, http.StatusOK)
}

type languagesResponse struct {
	Success   bool                   `json:"success"`
	Languages []translation.Language `json:"languages"`
}

func (s *Server) handleTranslationLanguages(w http.ResponseWriter, r *http.Request) {
	languages, err := s.translator.Languages(r.Context())
	if err != nil {
		s.respondInternal(w, titleLanguagesFailed, err)

		return
	}

	s.respondJSON(w, languagesResponse{Success: true, Languages: languages}, http.StatusOK)
}
