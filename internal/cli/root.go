// Package cli is the masctl command line. It asks the assistant, inspects
// the knowledge base and stored analytics, and mints development tokens.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/mas-assistant/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

type env struct {
	cfg     config.Config
	log     *slog.Logger
	closeFn func() error
	verbose bool
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "masctl",
		Short: "Operate the MAS assistant from the command line",
		Long: `masctl runs the assistant pipeline locally against the configured
model backends, CRM and knowledge base. Configuration comes from the
environment and an optional .env file, the same as the server.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			e.cfg = config.Load()
			level := e.cfg.Level()
			if e.verbose {
				level = slog.LevelDebug
			}
			e.log, e.closeFn = config.SetupLogger(e.cfg.LogFile, level)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e.closeFn != nil {
				return e.closeFn()
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newAskCmd(e))
	root.AddCommand(newKBCmd(e))
	root.AddCommand(newTokenCmd(e))
	root.AddCommand(newAnalyticsCmd(e))
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
