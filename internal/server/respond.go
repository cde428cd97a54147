package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode"
	"unicode/utf8"
)

// Error titles shared by several handlers.
const (
	titleValidation     = "Validation error"
	titleAuthRequired   = "Authentication required"
	titleAuthFailed     = "Authentication failed"
	titleInternal       = "Internal server error"
	titleNotFound       = "Not found"
	titleMethodNotAllow = "Method not allowed"
	titleTooLarge       = "Payload too large"
	titleInvalidJSON    = "Invalid JSON body"

	msgHiddenInternal = "An error occurred"
)

var errEmptyBody = errors.New("request body is empty")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		s.log.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, title, message string) {
	s.respondJSON(w, errorBody{Error: title, Message: message}, status)
}

// respondInternal logs err and answers 500. Production responses hide the
// cause.
func (s *Server) respondInternal(w http.ResponseWriter, title string, err error) {
	s.log.Error("%s: %v", title, err)

	message := err.Error()
	if s.cfg.IsProduction() {
		message = msgHiddenInternal
	}

	s.respondError(w, http.StatusInternalServerError, title, message)
}

// decodeJSON reads the request body into dst. It answers the client itself
// and returns false when the body is unusable.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		err = errEmptyBody
	}

	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.respondError(w, http.StatusRequestEntityTooLarge, titleTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))

		return false
	}

	s.respondError(w, http.StatusBadRequest, titleInvalidJSON, err.Error())

	return false
}

// sentence upper-cases the first letter of an error message for display.
func sentence(err error) string {
	msg := err.Error()

	first, size := utf8.DecodeRuneInString(msg)
	if first == utf8.RuneError {
		return msg
	}

	return string(unicode.ToUpper(first)) + msg[size:]
}
