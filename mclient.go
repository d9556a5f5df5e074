package mclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/mahelbir/mclient/internal/engine"
	"github.com/mahelbir/mclient/internal/queue"
	"github.com/mahelbir/mclient/internal/resolve"
	"github.com/mahelbir/mclient/internal/transport"
)

// Version is the client version reported in the default user-agent.
const Version = "1.0"

// DefaultUserAgent is sent with requests that carry no user-agent header.
const DefaultUserAgent = "Mclient/" + Version

const (
	defaultConcurrency    = 50
	defaultConnectTimeout = 5 * time.Second
	defaultTimeout        = 0
)

// Client queues HTTP requests and executes them in batches with a bounded
// number of transfers in flight.
//
// The typical lifecycle is:
//
//	c, err := mclient.New(mclient.WithConcurrency(10))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	for i, u := range urls {
//	    c.Get(u, nil, nil, mclient.RequestOptions{}, i)
//	}
//	responses, err := c.Execute(ctx)
//
// Queueing and configuration are safe for concurrent use. Requests queued
// while a batch runs belong to the next batch.
type Client struct {
	mu             sync.Mutex
	concurrency    int
	connectTimeout time.Duration
	timeout        time.Duration
	running        int

	userAgent   string
	logger      *slog.Logger
	transport   transport.Transport
	defaultHTTP *transport.HTTP
	limiter     *rate.Limiter
	observer    engine.Observer
	tracer      trace.Tracer
	callbacks   []func(Response)

	queue *queue.Queue[resolve.Descriptor]
}

// New creates a [Client] with the given options.
//
// Defaults:
//   - Concurrency: 50
//   - Connect timeout: 5 seconds
//   - Timeout: none
//   - User-agent: [DefaultUserAgent]
//   - Transport: net/http
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		concurrency:    defaultConcurrency,
		connectTimeout: defaultConnectTimeout,
		timeout:        defaultTimeout,
		userAgent:      DefaultUserAgent,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		concurrency:    cfg.concurrency,
		connectTimeout: cfg.connectTimeout,
		timeout:        cfg.timeout,
		userAgent:      cfg.userAgent,
		logger:         logger,
		transport:      cfg.transport,
		limiter:        cfg.limiter,
		observer:       cfg.observer,
		tracer:         cfg.tracer,
		callbacks:      cfg.callbacks,
		queue:          queue.New[resolve.Descriptor](),
	}
	if c.transport == nil {
		c.defaultHTTP = transport.NewHTTP(logger)
		c.transport = c.defaultHTTP
	}
	return c, nil
}

// Configure sets the concurrency and both timeouts in one call.
//
// Nothing is changed if any value is invalid. Returns [ErrBusy] while a
// batch is running.
func (c *Client) Configure(concurrency int, connectTimeout, timeout time.Duration) error {
	if err := validateConcurrency(concurrency); err != nil {
		return err
	}
	if connectTimeout < 0 {
		return fmt.Errorf("connect %w: got %v", ErrNegativeTimeout, connectTimeout)
	}
	if timeout < 0 {
		return fmt.Errorf("%w: got %v", ErrNegativeTimeout, timeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running > 0 {
		return ErrBusy
	}
	c.concurrency = concurrency
	c.connectTimeout = connectTimeout
	c.timeout = timeout
	return nil
}

// SetConcurrency changes the maximum number of transfers in flight.
//
// Returns [ErrInvalidConcurrency] if n is below 1 and [ErrBusy] while a
// batch is running.
func (c *Client) SetConcurrency(n int) error {
	if err := validateConcurrency(n); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running > 0 {
		return ErrBusy
	}
	c.concurrency = n
	return nil
}

// Concurrency returns the maximum number of transfers in flight.
func (c *Client) Concurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.concurrency
}

// SetConnectTimeout changes the connect timeout used by later batches.
func (c *Client) SetConnectTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("connect %w: got %v", ErrNegativeTimeout, d)
	}
	c.mu.Lock()
	c.connectTimeout = d
	c.mu.Unlock()
	return nil
}

// ConnectTimeout returns the connect timeout.
func (c *Client) ConnectTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectTimeout
}

// SetTimeout changes the total transfer timeout used by later batches.
// Zero means no limit.
func (c *Client) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: got %v", ErrNegativeTimeout, d)
	}
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
	return nil
}

// Timeout returns the total transfer timeout.
func (c *Client) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Pending returns the number of queued requests.
func (c *Client) Pending() int {
	return c.queue.Len()
}

// Execute runs every queued request and returns one [Response] per request,
// in completion order.
//
// Execute blocks until every transfer has finished. Transport failures do
// not fail the batch: they are reported on the matching Response with Code
// 0 and Err set. Execute itself returns an error only when the batch cannot
// start, for example when ctx is already cancelled; the queue is then left
// as it was so the batch can be retried.
//
// Cancelling ctx while the batch runs fails the remaining transfers fast;
// every request still yields a Response.
func (c *Client) Execute(ctx context.Context) ([]Response, error) {
	return c.run(ctx, c.queue.DrainAll())
}

// ExecuteSingle runs a batch of exactly one request and returns its
// [Response] directly.
//
// Returns [ErrNotSingle] without running anything, and with the queue
// untouched, unless exactly one request is queued.
func (c *Client) ExecuteSingle(ctx context.Context) (Response, error) {
	batch := c.queue.DrainAll()
	if len(batch) != 1 {
		c.queue.Restore(batch)
		return Response{}, fmt.Errorf("%w: %d queued", ErrNotSingle, len(batch))
	}

	responses, err := c.run(ctx, batch)
	if err != nil {
		return Response{}, err
	}
	return responses[0], nil
}

// Close releases idle connections held by the default transport.
// The client remains usable afterwards.
func (c *Client) Close() {
	c.defaultHTTP.Close()
}

func (c *Client) run(ctx context.Context, batch []resolve.Descriptor) ([]Response, error) {
	c.mu.Lock()
	c.running++
	concurrency := c.concurrency
	def := resolve.Defaults{
		Timeout:        c.timeout,
		ConnectTimeout: c.connectTimeout,
		UserAgent:      c.userAgent,
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running--
		c.mu.Unlock()
	}()

	jobs := make([]engine.Job, len(batch))
	for i, d := range batch {
		r := resolve.Resolve(d, def)
		jobs[i] = engine.Job{
			Transfer: r.Transfer,
			Snapshot: r.Snapshot,
			Extra:    d.Extra,
		}
	}

	cfg := engine.Config{
		Concurrency: concurrency,
		Logger:      c.logger,
		Limiter:     c.limiter,
		Observer:    c.observer,
		Tracer:      c.tracer,
	}
	if len(c.callbacks) > 0 {
		cfg.OnComplete = c.notify
	}

	records, err := engine.New(c.transport, cfg).Run(ctx, jobs)
	if err != nil {
		c.queue.Restore(batch)
		return nil, fmt.Errorf("failed to execute batch: %w", err)
	}

	responses := make([]Response, len(records))
	for i, rec := range records {
		responses[i] = recordToResponse(rec)
	}
	return responses, nil
}

// notify hands a completed record to every callback.
func (c *Client) notify(rec engine.Record) {
	for _, cb := range c.callbacks {
		invokeCallbackSafe(cb, recordToResponse(rec), c.logger)
	}
}

// invokeCallbackSafe calls a completion callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Response), resp Response, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("completion callback panicked",
				"panic", r,
				"id", resp.ID,
				"url", resp.Request.URL,
			)
		}
	}()
	cb(resp)
}

func validateConcurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, n)
	}
	return nil
}
