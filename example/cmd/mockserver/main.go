// Standalone mock server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/mclient run -c example/batch.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	fmt.Println("Mock echo server starting on :9999")
	fmt.Println("Every path echoes the request after 50-200ms")
	fmt.Println("Use ?status=503 to force a status and ?delay=3s to slow a reply")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		latency := time.Duration(50+rand.Intn(150)) * time.Millisecond
		if d, err := time.ParseDuration(r.URL.Query().Get("delay")); err == nil {
			latency = d
		}

		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}

		_ = r.ParseForm()
		status := http.StatusOK
		if s, err := strconv.Atoi(r.URL.Query().Get("status")); err == nil && s >= 100 && s <= 599 {
			status = s
		}

		slog.Info("request", "method", r.Method, "path", r.URL.Path, "status", status, "latency", latency.String())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"query":      r.URL.Query(),
			"form":       r.PostForm,
			"user_agent": r.UserAgent(),
			"latency_ms": latency.Milliseconds(),
		})
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
