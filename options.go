package mclient

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/mahelbir/mclient/internal/engine"
	"github.com/mahelbir/mclient/internal/metrics"
	"github.com/mahelbir/mclient/internal/transport"
)

// clientConfig holds mutable state during Client construction.
type clientConfig struct {
	concurrency    int
	connectTimeout time.Duration
	timeout        time.Duration
	userAgent      string
	logger         *slog.Logger
	transport      transport.Transport
	limiter        *rate.Limiter
	observer       engine.Observer
	tracer         trace.Tracer
	callbacks      []func(Response)
}

// Option is a function that configures a [Client] during construction.
//
// Options return an error if validation fails; [New] stops at the first one.
type Option func(*clientConfig) error

// WithConcurrency sets the maximum number of transfers in flight.
// Defaults to 50.
//
// Returns [ErrInvalidConcurrency] if n is below 1.
func WithConcurrency(n int) Option {
	return func(cfg *clientConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, n)
		}
		cfg.concurrency = n
		return nil
	}
}

// WithConnectTimeout bounds connection establishment for every transfer.
// Defaults to 5 seconds. Zero means no limit.
//
// Returns [ErrNegativeTimeout] if d is negative.
func WithConnectTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("connect %w: got %v", ErrNegativeTimeout, d)
		}
		cfg.connectTimeout = d
		return nil
	}
}

// WithTimeout bounds the whole of every transfer. Defaults to zero, meaning
// no limit.
//
// Returns [ErrNegativeTimeout] if d is negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("%w: got %v", ErrNegativeTimeout, d)
		}
		cfg.timeout = d
		return nil
	}
}

// WithUserAgent replaces the user-agent sent with requests that do not set
// their own. Defaults to [DefaultUserAgent].
func WithUserAgent(ua string) Option {
	return func(cfg *clientConfig) error {
		if ua == "" {
			return errors.New("user agent cannot be empty")
		}
		cfg.userAgent = ua
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the client.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTransport replaces the default net/http transport.
//
// The transport must be safe for concurrent use. Returns an error if t is nil.
func WithTransport(t transport.Transport) Option {
	return func(cfg *clientConfig) error {
		if t == nil {
			return errors.New("transport cannot be nil")
		}
		cfg.transport = t
		return nil
	}
}

// WithThrottle caps the rate at which transfers start, independently of the
// concurrency limit. rps is transfers per second and burst the number that
// may start back to back.
//
// Example:
//
//	c, err := mclient.New(
//	    mclient.WithConcurrency(20),
//	    mclient.WithThrottle(10, 5),
//	)
func WithThrottle(rps float64, burst int) Option {
	return func(cfg *clientConfig) error {
		if rps <= 0 {
			return errors.New("throttle rate must be positive")
		}
		if burst < 1 {
			return errors.New("throttle burst must be at least 1")
		}
		cfg.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithMetrics registers Prometheus metrics for transfers with registry.
// A nil registry uses the default registerer.
//
// Returns an error if the metrics are already registered with registry.
func WithMetrics(registry prometheus.Registerer) Option {
	return func(cfg *clientConfig) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("failed to register metrics: %v", r)
			}
		}()
		cfg.observer = metrics.NewCollector(registry)
		return nil
	}
}

// WithTracer creates one span per transfer with tracer. If not specified,
// the global OpenTelemetry provider is used.
func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *clientConfig) error {
		if tracer == nil {
			return errors.New("tracer cannot be nil")
		}
		cfg.tracer = tracer
		return nil
	}
}

// WithCompletionCallback registers a function called with every [Response]
// as its transfer completes, before [Client.Execute] returns.
//
// Multiple callbacks may be registered; they execute in registration order.
// Callbacks run on the batch loop and hold the transfer's slot until they
// return, so they must not block. Panics are recovered and logged.
//
// Example:
//
//	c, err := mclient.New(
//	    mclient.WithCompletionCallback(func(r mclient.Response) {
//	        if r.Err != nil {
//	            log.Printf("request %v failed: %v", r.Extra, r.Err)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithCompletionCallback(cb func(Response)) Option {
	return func(cfg *clientConfig) error {
		if cb == nil {
			return nil
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}
