package main

import (
	"kniffel/internal/config"
	"kniffel/internal/node"
	"kniffel/internal/server"
	"kniffel/internal/shell"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level())
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kniffel",
		Short:   "A Kniffel Extreme scoresheet that syncs between players.",
		Args:    cobra.ExactArgs(0),
		Version: releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run(cmd.Context(), cfg, newLogger(cfg))
		},
	}

	config.RegisterFlags(cmd.PersistentFlags(), cfg)

	cmd.AddCommand(newShellCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("kniffel v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newShellCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Keep score from the terminal instead of a browser.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cfg)
			n, err := node.Open(cfg, log, node.Options{})
			if err != nil {
				return err
			}
			defer n.Close()
			n.Start(cmd.Context())

			history := ""
			if cfg.DataDir != "" && cfg.DatabaseURL == "" {
				history = filepath.Join(cfg.DataDir, "history.txt")
			}
			return shell.New(n, os.Stdout, cfg.PublicURL, log).Run(cmd.Context(), history)
		},
	}
}
