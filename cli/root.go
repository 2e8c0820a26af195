// Package cli implements the smartcalc command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/smartcalc/otel"
)

// NewRootCmd builds the smartcalc root command with every subcommand
// attached.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "smartcalc",
		Short: "SmartCalc safe expression calculator",
		Long:  "SmartCalc evaluates restricted arithmetic expressions from the command line or over HTTP.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			quiet, _ := cmd.Flags().GetBool("quiet")
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), verbose, quiet))
			return nil
		},
	}

	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all log output except errors")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("smartcalc version %s\n", version))

	root.AddCommand(NewEvalCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewServeCmd())
	return root
}

// newLogger returns a text logger on w that stamps trace and span IDs on
// records logged inside a span.
func newLogger(w io.Writer, verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(otel.NewTraceHandler(handler))
}
