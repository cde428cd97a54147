package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/book-expert/llm-gateway/internal/auth"
	"github.com/book-expert/llm-gateway/internal/tts/speakers"
	"github.com/book-expert/llm-gateway/internal/tts/xtts"
)

func initAdminCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init-admin",
		Short: "Create the default admin account if no admin exists",
		Long: `Create the default admin account if the user store has no admin yet.

The generated credentials are written to the gateway log, never to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()

			created, err := auth.NewService(a.cfg.Auth, a.log).InitDefaultAdmin()
			if err != nil {
				return fmt.Errorf("failed to initialize admin: %w", err)
			}

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "Admin user created in %s. Check the gateway log for the credentials.\n",
					a.cfg.Auth.UsersFile)
			} else {
				fmt.Fprintf(out, "An admin user already exists in %s.\n", a.cfg.Auth.UsersFile)
			}

			return nil
		},
	}
}

func checkXTTSCmd(a *app) *cobra.Command {
	var listAll bool

	cmd := &cobra.Command{
		Use:   "check-xtts",
		Short: "Check that the XTTS server answers and list its languages and speakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()

			return runCheckXTTS(cmd, a, listAll)
		},
	}

	cmd.Flags().BoolVar(&listAll, "speakers", false, "print every speaker name")

	return cmd
}

const previewSpeakers = 10

func runCheckXTTS(cmd *cobra.Command, a *app, listAll bool) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.TTS.RequestTimeout())
	defer cancel()

	client := xtts.New(a.cfg.TTS.URL, a.cfg.TTS.RequestTimeout())
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "XTTS server: %s\n", client.BaseURL())

	languages, err := client.Languages(ctx)
	if err != nil {
		return fmt.Errorf("failed to list languages: %w", err)
	}

	fmt.Fprintf(out, "Languages (%d): %s\n", len(languages), strings.Join(languages, ", "))

	var unsupported []string

	for _, language := range a.cfg.TTS.Languages {
		if !slices.Contains(languages, language) {
			unsupported = append(unsupported, language)
		}
	}

	if len(unsupported) > 0 {
		fmt.Fprintf(out, "Configured but not served: %s\n", strings.Join(unsupported, ", "))
	}

	names, err := speakers.NewCache(client, a.log).Names(ctx)
	if err != nil {
		return fmt.Errorf("failed to list speakers: %w", err)
	}

	fmt.Fprintf(out, "Speakers: %d\n", len(names))

	shown := names
	if !listAll && len(shown) > previewSpeakers {
		shown = shown[:previewSpeakers]
	}

	for _, name := range shown {
		fmt.Fprintf(out, "  %s\n", name)
	}

	if len(shown) < len(names) {
		fmt.Fprintf(out, "  ... and %d more (use --speakers to list all)\n", len(names)-len(shown))
	}

	if !slices.Contains(names, a.cfg.TTS.DefaultSpeaker) {
		fmt.Fprintf(out, "Warning: default speaker %q is not available\n", a.cfg.TTS.DefaultSpeaker)
	}

	a.log.Info("XTTS check passed: %d languages, %d speakers", len(languages), len(names))

	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// The version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "llm-gateway %s (commit %s)\n", version, commit)
		},
	}
}
