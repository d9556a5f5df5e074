package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahelbir/mclient"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockServer(":9999")
	time.Sleep(100 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	c, err := mclient.New(
		mclient.WithConcurrency(4),
		mclient.WithTimeout(2*time.Second),
		mclient.WithLogger(logger),
		mclient.WithCompletionCallback(func(r mclient.Response) {
			fmt.Printf("  done  %-12v %3d  %s\n", r.Extra, r.Code, r.Duration.Round(time.Millisecond))
		}),
	)
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	// 10 users pages, a login, a forced 503 and one request that times out
	for page := 1; page <= 10; page++ {
		c.Get("http://localhost:9999/users", map[string]string{"page": fmt.Sprint(page)}, nil,
			mclient.RequestOptions{}, fmt.Sprintf("users-%d", page))
	}
	c.Post("http://localhost:9999/login", map[string]string{"user": "demo", "pass": "secret"}, nil,
		mclient.RequestOptions{}, "login")
	c.Get("http://localhost:9999/flaky", map[string]string{"status": "503"}, nil,
		mclient.RequestOptions{}, "flaky")
	c.Get("http://localhost:9999/slow", map[string]string{"delay": "5s"}, nil,
		mclient.RequestOptions{}, "slow")

	fmt.Println()
	fmt.Printf("  mclient demo: %d requests, 4 at a time\n\n", c.Pending())

	// set up context with signal handling so Ctrl+C cancels the batch
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	responses, err := c.Execute(ctx)
	if err != nil {
		slog.Error("batch failed", "error", err)
		os.Exit(1)
	}

	ok, failed := 0, 0
	for _, r := range responses {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("  fail  %-12v %v\n", r.Extra, r.Err)
		case r.OK():
			ok++
		}
	}

	fmt.Println()
	fmt.Printf("  %d responses in %s: %d ok, %d transport failures\n",
		len(responses), time.Since(start).Round(time.Millisecond), ok, failed)
}
