package server

import (
	"net/http"
	"time"

	"github.com/book-expert/llm-gateway/internal/auth"
)

type healthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Uptime    float64     `json:"uptime"`
	Version   string      `json:"version,omitempty"`
	User      *healthUser `json:"user,omitempty"`
}

type healthUser struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Seconds(),
		Version:   s.version,
		User:      nil,
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		resp.User = &healthUser{UserID: claims.UserID, Username: claims.Username, Role: claims.Role}
	}

	s.respondJSON(w, resp, http.StatusOK)
}
