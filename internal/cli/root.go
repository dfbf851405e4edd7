package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fmuoria/cv-triage/internal/config"
)

// NewRootCmd builds the cv-triage command tree
func NewRootCmd() *cobra.Command {
	var (
		debug    bool
		envFiles []string
	)

	rootCmd := &cobra.Command{
		Use:          "cv-triage",
		Short:        "Ingest, extract and triage candidate CVs",
		SilenceUsage: true,
		Long: `cv-triage ingests CV files from uploads or a Gmail inbox, extracts
structured fields from them and ranks the qualified candidates.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(debug)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Environment files to load (default .env)")

	load := func() (*config.ServerConfig, error) {
		return config.LoadServerConfig(envFiles...)
	}

	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newFilterCmd(load))
	rootCmd.AddCommand(newExplainCmd(load))
	rootCmd.AddCommand(newExportCmd(load))
	rootCmd.AddCommand(newProcessCmd(load))
	rootCmd.AddCommand(newFetchCmd(load))

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type configLoader func() (*config.ServerConfig, error)

func setupLogging(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
