// Package main is the entry point for the mclient CLI.
//
// mclient runs a batch of HTTP requests described in a YAML file with a
// bounded number of transfers in flight, printing one JSON line per response.
//
// Usage:
//
//	mclient run -c batch.yaml      # Run a batch
//	mclient validate -c batch.yaml # Validate a batch file
//	mclient version                # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mahelbir/mclient"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// newRootCmd builds the command tree with fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mclient",
		Short: "Run batches of HTTP requests with bounded concurrency",
		Long: `mclient runs many HTTP requests with a cap on how many are in flight.

Requests are described in a YAML batch file. Each response is printed to
stdout as one JSON object per line, in completion order, carrying the
request's name or extra value for correlation.

Quick start:
  1. Create a batch file (batch.yaml)
  2. Run: mclient run -c batch.yaml

Example batch:
  concurrency: 10
  timeout: 30s
  requests:
    - name: users
      url: https://api.example.com/users
      query:
        page: "1"`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "log every transfer at debug level")

	root.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())
	return root
}

// newLogger creates a JSON logger on stderr for CLI use.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra already prints the error
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, and build date of this mclient binary.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mclient %s\n", version)
			fmt.Fprintf(out, "  commit:     %s\n", commit)
			fmt.Fprintf(out, "  built:      %s\n", date)
			fmt.Fprintf(out, "  user-agent: %s\n", mclient.DefaultUserAgent)
		},
	}
}
