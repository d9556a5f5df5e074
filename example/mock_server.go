package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// echoReply is what the mock server returns for every request.
type echoReply struct {
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Query     map[string][]string `json:"query,omitempty"`
	Form      map[string][]string `json:"form,omitempty"`
	UserAgent string              `json:"user_agent"`
	LatencyMS int                 `json:"latency_ms"`
}

// newMockHandler returns a handler that echoes each request after a random
// 50-200ms delay. ?status=N forces the response status and ?delay=D (a Go
// duration) replaces the random delay.
func newMockHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
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
		reply := echoReply{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.Query(),
			Form:      r.PostForm,
			UserAgent: r.UserAgent(),
			LatencyMS: int(latency.Milliseconds()),
		}

		status := http.StatusOK
		if s, err := strconv.Atoi(r.URL.Query().Get("status")); err == nil && s >= 100 && s <= 599 {
			status = s
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(reply); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})
	return mux
}

// StartMockServer runs the mock echo server on addr.
// Call this in a goroutine before executing a batch against it.
func StartMockServer(addr string) {
	if err := http.ListenAndServe(addr, newMockHandler()); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
