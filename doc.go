// Package mclient is a bounded-concurrency HTTP batch client.
//
// Callers queue any number of requests, each with its own options and an
// opaque extra value, then execute them in one pass. At most the configured
// number of transfers run at once; as each completes its slot is handed to
// the next queued request. Every request yields exactly one [Response]
// carrying a snapshot of the request and its extra value, so callers can
// match results to their own records.
//
// # Quick Start
//
//	c, err := mclient.New(mclient.WithConcurrency(10))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	c.Get("https://api.example.com/users", map[string]string{"page": "1"}, nil, mclient.RequestOptions{}, "users-1")
//	c.Post("https://api.example.com/login", map[string]string{"user": "me"}, nil, mclient.RequestOptions{}, "login")
//
//	responses, err := c.Execute(ctx)
//	if err != nil {
//	    return err // the batch could not start
//	}
//	for _, r := range responses {
//	    if r.Err != nil {
//	        slog.Warn("request failed", "extra", r.Extra, "error", r.Err)
//	        continue
//	    }
//	    fmt.Println(r.Extra, r.Code, r.Header("content-type"))
//	}
//
// # Ordering
//
// Responses are returned in completion order, which depends on network
// timing. Queued requests start in submission order. Use the extra value or
// [Response.Request] to correlate.
//
// # Failures
//
// A transport failure (DNS, connect, TLS, timeout) does not abort the batch:
// the matching Response has Code 0, an empty body and Err set. HTTP error
// statuses are ordinary responses. [Client.Execute] returns an error only
// when the batch cannot start at all, in which case the queue is left intact.
//
// # Request Options
//
// [RequestOptions] covers redirects, cookie files, IP family, proxies,
// interface binding and TLS verification. Raw holds transport overrides
// applied last. The default transport also understands max_redirects,
// insecure_skip_verify, header_timeout and max_body_bytes.
//
// # Architecture
//
// The client is built from internal packages:
//
//   - internal/queue: FIFO of pending requests
//   - internal/resolve: maps request options and client defaults onto a transfer
//   - internal/engine: runs a batch under the concurrency cap
//   - internal/headers: raw header block codec
//   - internal/transport: transport interface and net/http implementation
//   - internal/metrics: Prometheus collector
//
// Batch files in YAML are handled by the config package and the mclient
// command.
package mclient
