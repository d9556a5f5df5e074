package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/mahelbir/mclient"
	"github.com/mahelbir/mclient/config"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch file",
		Long: `Run every request in a batch file and print the responses.

Each response is written to stdout as one JSON object per line, in
completion order. Transport failures (DNS, connect, TLS, timeout) are
reported in the "error" field and do not stop the batch. Logs go to stderr.

The run stops early on Ctrl+C or SIGTERM; transfers in flight are
cancelled and reported as failures.

Example:
  mclient run -c batch.yaml
  mclient run -c batch.yaml --concurrency 5 --timeout 10s
  mclient run -c batch.yaml --metrics 2> metrics.txt`,
		RunE: runBatch,
	}

	cmd.Flags().StringP("config", "c", "", "path to batch file (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().Int("concurrency", 0, "override the batch concurrency")
	cmd.Flags().Duration("timeout", 0, "override the per-transfer timeout")
	cmd.Flags().Bool("metrics", false, "write Prometheus metrics to stderr after the batch")

	return cmd
}

// responseLine is the JSON form of one response.
type responseLine struct {
	ID         string              `json:"id"`
	Extra      any                 `json:"extra,omitempty"`
	Method     string              `json:"method"`
	URL        string              `json:"url"`
	Code       int                 `json:"code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body"`
	Error      string              `json:"error,omitempty"`
	DurationMS float64             `json:"duration_ms"`
}

func newResponseLine(r mclient.Response) responseLine {
	line := responseLine{
		ID:         r.ID,
		Extra:      r.Extra,
		Method:     r.Request.Method,
		URL:        r.Request.URL,
		Code:       r.Code,
		Headers:    r.Headers,
		Body:       r.Body,
		DurationMS: float64(r.Duration.Microseconds()) / 1000,
	}
	if r.Err != nil {
		line.Error = r.Err.Error()
	}
	return line
}

func runBatch(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load batch file: %w", err)
	}

	opts := []mclient.Option{mclient.WithLogger(logger)}
	if cmd.Flags().Changed("concurrency") {
		n, _ := cmd.Flags().GetInt("concurrency")
		opts = append(opts, mclient.WithConcurrency(n))
	}
	if cmd.Flags().Changed("timeout") {
		d, _ := cmd.Flags().GetDuration("timeout")
		opts = append(opts, mclient.WithTimeout(d))
	}

	withMetrics, _ := cmd.Flags().GetBool("metrics")
	var registry *prometheus.Registry
	if withMetrics {
		registry = prometheus.NewRegistry()
		opts = append(opts, mclient.WithMetrics(registry))
	}

	c, err := config.NewClient(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	n, err := config.Enqueue(c, cfg)
	if err != nil {
		return fmt.Errorf("failed to queue requests: %w", err)
	}
	logger.Info("batch loaded",
		"requests", n,
		"concurrency", c.Concurrency(),
	)

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	responses, err := c.Execute(ctx)
	if err != nil {
		return err
	}

	failed, err := writeResponses(cmd.OutOrStdout(), responses)
	if err != nil {
		return fmt.Errorf("failed to write responses: %w", err)
	}

	logger.Info("batch complete",
		"responses", len(responses),
		"failed", failed,
		"duration", time.Since(start).String(),
	)

	if registry != nil {
		if err := writeMetrics(cmd.ErrOrStderr(), registry); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// writeResponses encodes responses as NDJSON and returns how many hit a
// transport failure.
func writeResponses(w io.Writer, responses []mclient.Response) (int, error) {
	enc := json.NewEncoder(w)
	failed := 0
	for _, r := range responses {
		if r.Err != nil {
			failed++
		}
		if err := enc.Encode(newResponseLine(r)); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
