// Command go-client synthesizes speech locally against an XTTS server,
// without going through the gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"

	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/core"
	"github.com/book-expert/llm-gateway/internal/tts"
	"github.com/book-expert/llm-gateway/internal/tts/speakers"
	"github.com/book-expert/llm-gateway/internal/tts/xtts"
)

// Flag descriptions and messages.
const (
	flagOutputDesc   = "Output file path (.wav)"
	flagChunksDesc   = "JSON file containing an array of texts to synthesize in order"
	flagConfigDesc   = "Path to a gateway TOML configuration (defaults and environment otherwise)"
	flagVerboseDesc  = "Enable verbose logging"
	flagHealthDesc   = "Check XTTS service health and exit"
	flagTextDesc     = "Text to convert to speech"
	flagSpeakerDesc  = "Studio speaker name (defaults to the configured speaker)"
	flagLanguageDesc = "Language code (defaults to the configured language)"
	flagURLDesc      = "XTTS server URL (overrides configuration)"
)

// Flag names.
const (
	flagText     = "text"
	flagOutput   = "output"
	flagChunks   = "chunks"
	flagConfig   = "config"
	flagVerbose  = "verbose"
	flagHealth   = "health"
	flagSpeaker  = "speaker"
	flagLanguage = "language"
	flagURL      = "url"
)

// Error and log messages.
const (
	errFailedToLoadConfig    = "failed to load configuration: %w"
	errFailedToInitLogger    = "failed to initialize logger: %w"
	errHealthCheckFailed     = "Health check failed: %v"
	errServiceNotHealthy     = "XTTS service is not healthy: %v\n"
	msgServiceHealthy        = "XTTS service is healthy"
	errFailedToProcessText   = "failed to process text: %w"
	errFailedToProcessChunks = "failed to process chunks: %w"
)

var (
	errEitherTextOrChunks = errors.New("Either --text or --chunks must be provided")
	errCannotSpecifyBoth  = errors.New("Cannot specify both --text and --chunks")
)

// Log messages.
const (
	logClientInitialized     = "TTS client initialized (XTTS server: %s)"
	logProcessingSingleText  = "Processing single text to: %s"
	logSuccessfullyGenerated = "Successfully generated speech: %s"
	logGenerated             = "Generated: %s\n"
	logProcessingChunks      = "Processing chunks from: %s"
	logSuccessfullyProcessed = "Successfully processed all chunks"
)

// File names and paths.
const (
	logFileNameDefault = "tts-client.log"
	logFileNameVerbose = "tts-client-verbose.log"
	defaultOutputFile  = "output.wav"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text     string
	output   string
	chunks   string
	config   string
	speaker  string
	language string
	url      string
	verbose  bool
	health   bool
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	clientLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}

	defer func() { _ = clientLog.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := xtts.New(cfg.TTS.URL, cfg.TTS.ChunkTimeout())
	clientLog.Info(logClientInitialized, client.BaseURL())

	if flags.health {
		return handleHealthCheck(ctx, client, clientLog)
	}

	err = validateArgumentsOnly(flags)
	if err != nil {
		flag.Usage()
		clientLog.Error("%v", err)

		return err
	}

	engine := tts.NewEngine(cfg.TTS, client, speakers.NewCache(client, clientLog), clientLog)

	return handleExecution(ctx, engine, clientLog, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(flagSet *flag.FlagSet, args []string) appFlags {
	var flags appFlags
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flagSet.StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.StringVar(&flags.speaker, flagSpeaker, "", flagSpeakerDesc)
	flagSet.StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	flagSet.StringVar(&flags.url, flagURL, "", flagURLDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	// The command-line flag set exits on error; test flag sets report it.
	_ = flagSet.Parse(args)

	return flags
}

// loadConfig reads the gateway configuration file when one is given.
// Otherwise the defaults are used with environment overrides, so the client
// runs without auth secrets.
func loadConfig(flags appFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if flags.config != "" {
		cfg, err = config.LoadFile(flags.config)
	} else {
		cfg = config.Default()
		err = cfg.ApplyEnv(os.LookupEnv)
	}

	if err != nil {
		return nil, fmt.Errorf(errFailedToLoadConfig, err)
	}

	if flags.url != "" {
		cfg.TTS.URL = flags.url
	}

	return cfg, nil
}

// validateArgumentsOnly checks for required and conflicting arguments.
func validateArgumentsOnly(flags appFlags) error {
	if flags.text == "" && flags.chunks == "" {
		return errEitherTextOrChunks
	}

	if flags.text != "" && flags.chunks != "" {
		return errCannotSpecifyBoth
	}

	return nil
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(ctx context.Context, client *xtts.Client, clientLog *logger.Logger) error {
	err := client.HealthCheck(ctx)
	if err != nil {
		clientLog.Error(errHealthCheckFailed, err)
		fmt.Printf(errServiceNotHealthy, err)

		return err
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

// handleExecution dispatches to the correct processing function.
func handleExecution(ctx context.Context, engine *tts.Engine, clientLog *logger.Logger, flags appFlags) error {
	if flags.text != "" {
		return processSingleText(ctx, engine, clientLog, flags)
	}

	return processChunks(ctx, engine, clientLog, flags)
}

// processSingleText handles the logic for converting a single text string.
func processSingleText(ctx context.Context, engine *tts.Engine, clientLog *logger.Logger, flags appFlags) error {
	clientLog.Info(logProcessingSingleText, flags.output)

	err := engine.SynthesizeToFile(ctx, core.SpeechRequest{
		Text:     flags.text,
		Language: flags.language,
		Speaker:  flags.speaker,
	}, flags.output)
	if err != nil {
		clientLog.Error("%v", err)

		return fmt.Errorf(errFailedToProcessText, err)
	}

	clientLog.Info(logSuccessfullyGenerated, flags.output)
	fmt.Printf(logGenerated, flags.output)

	return nil
}

// processChunks handles the logic for converting a file of text chunks.
func processChunks(ctx context.Context, engine *tts.Engine, clientLog *logger.Logger, flags appFlags) error {
	clientLog.Info(logProcessingChunks, flags.chunks)

	err := engine.SynthesizeChunksFile(ctx, flags.chunks, flags.output, flags.speaker, flags.language)
	if err != nil {
		clientLog.Error("%v", err)

		return fmt.Errorf(errFailedToProcessChunks, err)
	}

	clientLog.Info(logSuccessfullyProcessed)
	fmt.Printf(logGenerated, flags.output)

	return nil
}
