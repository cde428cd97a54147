// Package config provides the configuration structure for the llm-gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override file values.
const (
	EnvPort              = "PORT"
	EnvAllowedOrigins    = "ALLOWED_ORIGINS"
	EnvRateLimitMax      = "RATE_LIMIT_MAX"
	EnvJWTSecret         = "JWT_SECRET"
	EnvJWTRefreshSecret  = "JWT_REFRESH_SECRET"
	EnvXTTSURL           = "XTTS_URL"
	EnvOllamaBaseURL     = "OLLAMA_BASE_URL"
	EnvLocalAIBaseURL    = "LOCALAI_BASE_URL"
	EnvLibreTranslateURL = "LIBRETRANSLATE_URL"
	EnvEnvironment       = "GATEWAY_ENV"
)

// Defaults applied to zero values after decoding.
const (
	DefaultPort                   = 3000
	DefaultRateLimitWindowSeconds = 15 * 60
	DefaultRateLimitMax           = 100
	DefaultBodyLimitBytes         = 10 << 20
	DefaultShutdownTimeoutSeconds = 10

	DefaultAccessTokenTTLMinutes = 60
	DefaultRefreshTokenTTLHours  = 7 * 24
	DefaultBcryptCost            = 12
	DefaultUsersFile             = "data/users.json"

	DefaultXTTSURL             = "http://xtts:80"
	DefaultSpeaker             = "Claribel Dervla"
	DefaultLanguage            = "en"
	DefaultMaxChunkChars       = 240
	DefaultMaxTextChars        = 50000
	DefaultTTSWorkers          = 4
	DefaultChunkTimeoutSeconds = 180
	DefaultTTSTimeoutSeconds   = 30

	DefaultChatProvider   = "ollama"
	DefaultOllamaBaseURL  = "http://localhost:11434"
	DefaultLocalAIBaseURL = "http://localhost:8080"
	DefaultChatTimeout    = 120

	DefaultImagesProvider = "localai"
	DefaultImagesModel    = "stablediffusion"
	DefaultImagesTimeout  = 300

	DefaultLibreTranslateURL   = "http://libretranslate:5000"
	DefaultTranslationTimeout  = 30
	DefaultTranslationParallel = 4

	DefaultNATSJobTimeoutSeconds = 600

	DefaultTelemetryServiceName = "llm-gateway"

	EnvironmentProduction = "production"
)

// DefaultLanguages are the language codes XTTS v2 supports.
var DefaultLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "pl", "tr", "ru",
	"nl", "cs", "ar", "zh-cn", "ja", "hu", "ko", "hi",
}

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	Environment            string   `toml:"environment"`
	AllowedOrigins         []string `toml:"allowed_origins"`
	RateLimitWindowSeconds int      `toml:"rate_limit_window_seconds"`
	RateLimitMax           int      `toml:"rate_limit_max"`
	BodyLimitBytes         int64    `toml:"body_limit_bytes"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

// AuthConfig holds the user store and token settings.
type AuthConfig struct {
	JWTSecret             string `toml:"jwt_secret"`
	JWTRefreshSecret      string `toml:"jwt_refresh_secret"`
	AccessTokenTTLMinutes int    `toml:"access_token_ttl_minutes"`
	RefreshTokenTTLHours  int    `toml:"refresh_token_ttl_hours"`
	BcryptCost            int    `toml:"bcrypt_cost"`
	UsersFile             string `toml:"users_file"`
}

// TTSServiceConfig holds the XTTS backend and chunking settings.
type TTSServiceConfig struct {
	URL                 string   `toml:"url"`
	DefaultSpeaker      string   `toml:"default_speaker"`
	DefaultLanguage     string   `toml:"default_language"`
	Languages           []string `toml:"languages"`
	MaxChunkChars       int      `toml:"max_chunk_chars"`
	MaxTextChars        int      `toml:"max_text_chars"`
	Workers             int      `toml:"workers"`
	ChunkTimeoutSeconds int      `toml:"chunk_timeout_seconds"`
	TimeoutSeconds      int      `toml:"timeout_seconds"`
}

// ChatConfig holds the chat completion backends.
type ChatConfig struct {
	Provider       string `toml:"provider"`
	OllamaBaseURL  string `toml:"ollama_base_url"`
	LocalAIBaseURL string `toml:"localai_base_url"`
	DefaultModel   string `toml:"default_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ImagesConfig holds the image generation backend.
type ImagesConfig struct {
	Provider       string `toml:"provider"`
	LocalAIBaseURL string `toml:"localai_base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TranslationConfig holds the LibreTranslate backend.
type TranslationConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BatchWorkers   int    `toml:"batch_workers"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                  bool   `toml:"enabled"`
	URL                      string `toml:"url"`
	TTStreamName             string `toml:"tts_stream_name"`
	TTSConsumerName          string `toml:"tts_consumer_name"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	JobTimeoutSeconds        int    `toml:"job_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// TelemetryConfig holds the tracing settings.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	// Output is "stdout" or a file path the spans are appended to.
	Output string `toml:"output"`
}

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Auth        AuthConfig        `toml:"auth"`
	TTS         TTSServiceConfig  `toml:"tts_service"`
	Chat        ChatConfig        `toml:"chat"`
	Images      ImagesConfig      `toml:"images"`
	Translation TranslationConfig `toml:"translation"`
	NATS        NATSConfig        `toml:"nats"`
	Paths       PathsConfig       `toml:"paths"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
}

// Load loads the configuration through the central configurator, then
// applies defaults and environment overrides and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from a local TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default applied. Secrets are
// left empty.
func Default() *Config {
	var cfg Config

	cfg.ApplyDefaults()

	return &cfg
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Port, DefaultPort)
	setDefault(&c.Server.RateLimitWindowSeconds, DefaultRateLimitWindowSeconds)
	setDefault(&c.Server.RateLimitMax, DefaultRateLimitMax)
	setDefault(&c.Server.BodyLimitBytes, DefaultBodyLimitBytes)
	setDefault(&c.Server.ShutdownTimeoutSeconds, DefaultShutdownTimeoutSeconds)

	setDefault(&c.Auth.AccessTokenTTLMinutes, DefaultAccessTokenTTLMinutes)
	setDefault(&c.Auth.RefreshTokenTTLHours, DefaultRefreshTokenTTLHours)
	setDefault(&c.Auth.BcryptCost, DefaultBcryptCost)
	setDefault(&c.Auth.UsersFile, DefaultUsersFile)

	setDefault(&c.TTS.URL, DefaultXTTSURL)
	setDefault(&c.TTS.DefaultSpeaker, DefaultSpeaker)
	setDefault(&c.TTS.DefaultLanguage, DefaultLanguage)
	setDefault(&c.TTS.MaxChunkChars, DefaultMaxChunkChars)
	setDefault(&c.TTS.MaxTextChars, DefaultMaxTextChars)
	setDefault(&c.TTS.Workers, DefaultTTSWorkers)
	setDefault(&c.TTS.ChunkTimeoutSeconds, DefaultChunkTimeoutSeconds)
	setDefault(&c.TTS.TimeoutSeconds, DefaultTTSTimeoutSeconds)

	if len(c.TTS.Languages) == 0 {
		c.TTS.Languages = slices.Clone(DefaultLanguages)
	}

	setDefault(&c.Chat.Provider, DefaultChatProvider)
	setDefault(&c.Chat.OllamaBaseURL, DefaultOllamaBaseURL)
	setDefault(&c.Chat.LocalAIBaseURL, DefaultLocalAIBaseURL)
	setDefault(&c.Chat.TimeoutSeconds, DefaultChatTimeout)

	setDefault(&c.Images.Provider, DefaultImagesProvider)
	setDefault(&c.Images.LocalAIBaseURL, DefaultLocalAIBaseURL)
	setDefault(&c.Images.Model, DefaultImagesModel)
	setDefault(&c.Images.TimeoutSeconds, DefaultImagesTimeout)

	setDefault(&c.Translation.BaseURL, DefaultLibreTranslateURL)
	setDefault(&c.Translation.TimeoutSeconds, DefaultTranslationTimeout)
	setDefault(&c.Translation.BatchWorkers, DefaultTranslationParallel)

	setDefault(&c.NATS.JobTimeoutSeconds, DefaultNATSJobTimeoutSeconds)

	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
	setDefault(&c.Telemetry.ServiceName, DefaultTelemetryServiceName)
	setDefault(&c.Telemetry.Output, "stdout")
}

// ApplyEnv overrides file values with the environment variables lookup
// reports as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if value, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvPort, value)
		}

		c.Server.Port = port
	}

	if value, ok := lookup(EnvRateLimitMax); ok {
		limit, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvRateLimitMax, value)
		}

		c.Server.RateLimitMax = limit
	}

	if value, ok := lookup(EnvAllowedOrigins); ok {
		c.Server.AllowedOrigins = splitList(value)
	}

	overrides := map[string]*string{
		EnvEnvironment:       &c.Server.Environment,
		EnvJWTSecret:         &c.Auth.JWTSecret,
		EnvJWTRefreshSecret:  &c.Auth.JWTRefreshSecret,
		EnvXTTSURL:           &c.TTS.URL,
		EnvOllamaBaseURL:     &c.Chat.OllamaBaseURL,
		EnvLibreTranslateURL: &c.Translation.BaseURL,
	}

	for name, target := range overrides {
		if value, ok := lookup(name); ok && value != "" {
			*target = value
		}
	}

	// LocalAI serves both chat and images.
	if value, ok := lookup(EnvLocalAIBaseURL); ok && value != "" {
		c.Chat.LocalAIBaseURL = value
		c.Images.LocalAIBaseURL = value
	}

	return nil
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	if c.Server.RateLimitMax < 1 {
		problems = append(problems, "server.rate_limit_max must be positive")
	}

	if c.Auth.JWTSecret == "" || c.Auth.JWTRefreshSecret == "" {
		problems = append(problems, "auth.jwt_secret and auth.jwt_refresh_secret are required")
	} else if c.Auth.JWTSecret == c.Auth.JWTRefreshSecret {
		problems = append(problems, "auth.jwt_secret and auth.jwt_refresh_secret must differ")
	}

	if c.TTS.URL == "" {
		problems = append(problems, "tts_service.url is required")
	}

	if c.TTS.MaxChunkChars < 1 {
		problems = append(problems, "tts_service.max_chunk_chars must be positive")
	}

	if c.TTS.Workers < 1 {
		problems = append(problems, "tts_service.workers must be positive")
	}

	if !slices.Contains(c.TTS.Languages, c.TTS.DefaultLanguage) {
		problems = append(problems, fmt.Sprintf(
			"tts_service.default_language %q is not in tts_service.languages", c.TTS.DefaultLanguage))
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" || c.NATS.TextProcessedSubject == "" {
			problems = append(problems, "nats.url and nats.text_processed_subject are required when nats is enabled")
		}

		if c.NATS.TextObjectStoreBucket == "" || c.NATS.AudioObjectStoreBucket == "" {
			problems = append(problems, "nats object store buckets are required when nats is enabled")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return nil
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction reports whether error details must be hidden from clients.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvironmentProduction
}

// RateLimitWindow is the rate limiter window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Server.RateLimitWindowSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// ChunkTimeout bounds a single synthesis call.
func (c *TTSServiceConfig) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutSeconds) * time.Second
}

// RequestTimeout bounds non-synthesis calls to XTTS such as speaker listing.
func (c *TTSServiceConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AccessTokenTTL is the lifetime of an access token.
func (c *AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTokenTTL is the lifetime of a refresh token.
func (c *AuthConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHours) * time.Hour
}

// Timeout converts a timeout_seconds value.
func Timeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func setDefault[T comparable](field *T, value T) {
	var zero T

	if *field == zero {
		*field = value
	}
}

func splitList(value string) []string {
	var items []string

	for item := range strings.SplitSeq(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}
