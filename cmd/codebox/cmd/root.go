// Package cmd provides the CLI commands for codebox.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/retoolsx/codebox/internal/config"
	"github.com/retoolsx/codebox/internal/engine"
	"github.com/retoolsx/codebox/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var loggingCleanup func()

// NewRootCmd creates the root command for the codebox CLI.
func NewRootCmd() *cobra.Command {
	var debugMode bool

	cmd := &cobra.Command{
		Use:   "codebox",
		Short: "Per-project hybrid code search",
		Long: `CodeBox indexes a source tree into a per-project store and answers
queries by fusing dense-vector similarity with full-text ranking.

Run 'codebox index' in a project directory, then 'codebox search'.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg := logging.DefaultConfig()
			if debugMode {
				logCfg.Level = "debug"
				logCfg.WriteToStderr = true
			}
			logger, cleanup, err := logging.Setup(logCfg)
			if err != nil {
				return err
			}
			loggingCleanup = cleanup
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}

	cmd.SetVersionTemplate("codebox version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newProjectsCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// newEngine loads the config and constructs an engine for a command run.
func newEngine() (*engine.Engine, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, cfg, err
	}
	return eng, cfg, nil
}
