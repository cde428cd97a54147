// Package server exposes the gateway over HTTP: speech synthesis, chat,
// images, translation and account management behind a chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/book-expert/llm-gateway/internal/auth"
	"github.com/book-expert/llm-gateway/internal/chat"
	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/core"
	"github.com/book-expert/llm-gateway/internal/images"
	"github.com/book-expert/llm-gateway/internal/metrics"
	"github.com/book-expert/llm-gateway/internal/translation"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 60 * time.Second
	idleTimeout       = 120 * time.Second
)

// ChatCompleter answers chat requests. *chat.Service satisfies it.
type ChatCompleter interface {
	Complete(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// ImageGenerator creates images. *images.Service satisfies it.
type ImageGenerator interface {
	Generate(ctx context.Context, req images.Request) ([]string, error)
}

// Translator translates text. *translation.Service satisfies it.
type Translator interface {
	Translate(ctx context.Context, req translation.Request) (*translation.Result, error)
	Batch(ctx context.Context, req translation.BatchRequest) ([]translation.Result, error)
	Detect(ctx context.Context, text string) (*translation.Detection, error)
	Languages(ctx context.Context) ([]translation.Language, error)
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Config     *config.Config
	Log        *logger.Logger
	Metrics    *metrics.Metrics
	Auth       *auth.Service
	Speech     core.Synthesizer
	Voices     core.VoiceLister
	Chat       ChatCompleter
	Images     ImageGenerator
	Translator Translator
	Version    string
}

// Server is the gateway's HTTP front end.
type Server struct {
	cfg        *config.Config
	log        *logger.Logger
	metrics    *metrics.Metrics
	auth       *auth.Service
	speech     core.Synthesizer
	voices     core.VoiceLister
	chat       ChatCompleter
	images     ImageGenerator
	translator Translator
	version    string

	limiter *ipRateLimiter
	router  *chi.Mux
	started time.Time
}

// New builds the router.
func New(deps Deps) *Server {
	srv := &Server{
		cfg:        deps.Config,
		log:        deps.Log,
		metrics:    deps.Metrics,
		auth:       deps.Auth,
		speech:     deps.Speech,
		voices:     deps.Voices,
		chat:       deps.Chat,
		images:     deps.Images,
		translator: deps.Translator,
		version:    deps.Version,
		limiter:    newIPRateLimiter(deps.Config.Server.RateLimitMax, deps.Config.RateLimitWindow()),
		router:     chi.NewRouter(),
		started:    time.Now(),
	}

	srv.routes()

	return srv
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(s.recoverer)
	r.Use(secureHeaders)
	r.Use(cors(s.cfg.Server.AllowedOrigins))
	r.Use(bodyLimit(s.cfg.Server.BodyLimitBytes))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.respondJSON(w, errorBody{Error: titleNotFound, Message: ""}, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.respondJSON(w, errorBody{Error: titleMethodNotAllow, Message: ""}, http.StatusMethodNotAllowed)
	})

	r.With(s.optionalAuth).Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(s.rateLimit)
		api.Use(s.optionalAuth)

		api.Post("/tts", s.handleSynthesize)
		api.Get("/tts/voices", s.handleVoices)

		api.Post("/chat", s.handleChat)
		api.Post("/images", s.handleImages)

		api.Route("/translate", func(tr chi.Router) {
			tr.Post("/", s.handleTranslate)
			tr.Post("/batch", s.handleTranslateBatch)
			tr.Post("/detect", s.handleDetect)
			tr.Get("/languages", s.handleTranslationLanguages)
		})

		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", s.handleRegister)
			ar.Post("/login", s.handleLogin)
			ar.Post("/refresh", s.handleRefresh)
			ar.Post("/change-password", s.handleChangePassword)
			ar.Post("/delete-account", s.handleDeleteAccount)
			ar.Post("/validate-password", s.handleValidatePassword)
			ar.Post("/init-admin", s.handleInitAdmin)
			ar.With(s.requireAdmin).Get("/users", s.handleListUsers)
			ar.With(s.requireAuth).Get("/me", s.handleMe)
		})
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	s.log.System("LLM gateway listening on %s", httpServer.Addr)

	if len(s.cfg.Server.AllowedOrigins) == 0 {
		s.log.Warn("CORS is disabled. Set ALLOWED_ORIGINS in production!")
	}

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("forced shutdown after timeout: %w", err)
	}

	s.log.Info("HTTP server closed.")

	return nil
}
