package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/book-expert/llm-gateway/internal/auth"
)

const (
	unmatchedRoute = "unmatched"

	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, X-Request-Id"
	corsMaxAge       = "600"

	msgAccessTokenRequired = "Access token is required"
	msgInvalidToken        = "Invalid or expired token"
	msgMustBeLoggedIn      = "You must be logged in"
	msgAdminRequired       = "Admin access required"
	titleForbidden         = "Insufficient permissions"
)

// securityHeaders mirrors the helmet defaults minus the content security
// and cross-origin embedder policies, which break API clients.
var securityHeaders = map[string]string{
	"Cross-Origin-Opener-Policy":        "same-origin",
	"Cross-Origin-Resource-Policy":      "same-origin",
	"Origin-Agent-Cluster":              "?1",
	"Referrer-Policy":                   "no-referrer",
	"Strict-Transport-Security":         "max-age=15552000; includeSubDomains",
	"X-Content-Type-Options":            "nosniff",
	"X-DNS-Prefetch-Control":            "off",
	"X-Download-Options":                "noopen",
	"X-Frame-Options":                   "SAMEORIGIN",
	"X-Permitted-Cross-Domain-Policies": "none",
	"X-XSS-Protection":                  "0",
}

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range securityHeaders {
			w.Header().Set(name, value)
		}

		next.ServeHTTP(w, r)
	})
}

// cors allows credentialed requests from the listed origins only. An empty
// list disables CORS entirely.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !slices.Contains(allowedOrigins, origin) {
				next.ServeHTTP(w, r)

				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				next.ServeHTTP(w, r)

				return
			}

			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusOK)
		})
	}
}

func bodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recoverer turns a handler panic into a JSON 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			s.log.Error("Panic serving %s %s: %v", r.Method, r.URL.Path, recovered)

			message := "unexpected panic"
			if err, ok := recovered.(error); ok {
				message = err.Error()
			}

			s.respondInternal(w, titleInternal, errors.New(message))
		}()

		next.ServeHTTP(w, r)
	})
}

// observe logs every request and records it under its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		s.log.Info("%s %s -> %d (%d bytes) in %s [%s]", r.Method, r.URL.Path, status,
			ww.BytesWritten(), elapsed.Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

// optionalAuth attaches the caller's claims when a valid token names a user
// that still exists. It never rejects a request.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			next.ServeHTTP(w, r)

			return
		}

		claims, err := s.verify(token)
		if err != nil {
			next.ServeHTTP(w, r)

			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// requireAuth rejects requests without a token (401) or with an invalid one
// (403).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.respondError(w, http.StatusUnauthorized, titleAuthRequired, msgAccessTokenRequired)

			return
		}

		claims, err := s.verify(token)
		if err != nil {
			s.respondError(w, http.StatusForbidden, titleAuthFailed, msgInvalidToken)

			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// requireAdmin expects claims from optionalAuth or requireAuth.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			s.respondError(w, http.StatusUnauthorized, titleAuthRequired, msgMustBeLoggedIn)

			return
		}

		if !claims.IsAdmin() {
			s.respondError(w, http.StatusForbidden, titleForbidden, msgAdminRequired)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) verify(token string) (*auth.Claims, error) {
	claims, err := s.auth.VerifyAccess(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}

	_, err = s.auth.UserByID(claims.UserID)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
