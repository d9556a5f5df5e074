package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mahelbir/mclient/config"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a batch file",
		Long: `Validate a batch file without sending any requests.

This command parses the YAML, expands environment variables, validates all
fields and expands grids. It's useful for CI pipelines or pre-run checks.

Exit codes:
  0 - Batch file is valid
  1 - Batch file is invalid (error details printed to stderr)

Example:
  mclient validate -c batch.yaml`,
		RunE: runValidate,
	}

	cmd.Flags().StringP("config", "c", "", "path to batch file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid batch file: %w", err)
	}

	requests, err := config.Expand(cfg)
	if err != nil {
		return fmt.Errorf("invalid batch file: %w", err)
	}

	direct := len(cfg.Requests)
	fromGrids := len(requests) - direct

	concurrency := "default"
	if cfg.Concurrency > 0 {
		concurrency = fmt.Sprint(cfg.Concurrency)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch file is valid!\n")
	fmt.Fprintf(out, "  Concurrency: %s\n", concurrency)
	fmt.Fprintf(out, "  Requests:    %d direct + %d from grids = %d total\n",
		direct, fromGrids, len(requests))

	return nil
}
