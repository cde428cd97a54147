// main package for the llm-gateway
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/llm-gateway/internal/config"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

const (
	bootstrapLogFile = "llm-gateway-bootstrap.log"
	logFile          = "llm-gateway.log"
)

// app carries what every subcommand needs once the configuration is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	log        *logger.Logger
}

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// load reads the configuration with a bootstrap logger, then opens the
// final logger in the configured log directory.
func (a *app) load() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing bootstrap logger: %v\n", closeErr)
		}
	}()

	var cfg *config.Config

	if a.configPath != "" {
		bootstrapLog.Info("Loading configuration from %s", a.configPath)
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load(bootstrapLog)
	}

	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	a.cfg = cfg
	a.log = finalLog

	return nil
}

func (a *app) close() {
	if a.log == nil {
		return
	}

	closeErr := a.log.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
	}

	a.log = nil
}

func newRootCommand() *cobra.Command {
	application := &app{configPath: "", cfg: nil, log: nil}

	root := &cobra.Command{
		Use:   "llm-gateway",
		Short: "HTTP gateway for speech synthesis, chat, images and translation",
		Long: `llm-gateway fronts self-hosted AI backends behind one authenticated HTTP API.

Speech is synthesized by an XTTS v2 server: long text is split into chunks,
synthesized in parallel and spliced into a single WAV file. Chat and images go
to Ollama or LocalAI, translation to LibreTranslate.

Without --config the configuration is fetched through the central
configurator. Environment variables such as PORT, JWT_SECRET and XTTS_URL
override file values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return application.load()
		},
	}

	root.PersistentFlags().StringVarP(&application.configPath, "config", "c", "",
		"path to a TOML configuration file")

	root.AddCommand(
		serveCmd(application),
		initAdminCmd(application),
		checkXTTSCmd(application),
		versionCmd(),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
