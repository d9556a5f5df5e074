// Package engine runs a batch of transfers with a bounded number in flight.
//
// The engine keeps two disjoint collections: the pending jobs, consumed in
// submission order, and the in-flight set keyed by handle. Each transfer runs
// in its own goroutine and reports to a completion channel. A single loop
// handles every completion: it correlates the result into a [Record],
// appends it, retires the handle and promotes the next pending job into the
// freed slot. A slot is therefore occupied from launch until the completion
// handler returns.
//
// Records are returned in completion order, which depends on network timing
// and generally differs from submission order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/mahelbir/mclient/internal/resolve"
	"github.com/mahelbir/mclient/internal/transport"
)

const tracerName = "github.com/mahelbir/mclient"

var (
	// ErrNoTransport is returned by Run when the engine has no transport.
	ErrNoTransport = errors.New("no transport configured")

	// ErrInvalidConcurrency is returned by Run when concurrency is below 1.
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")

	// ErrTransportPanic marks records whose transport panicked.
	ErrTransportPanic = errors.New("transport panic")
)

// Job is one transfer plus the correlation token handed back with its record.
type Job struct {
	Transfer transport.Transfer
	Snapshot resolve.Snapshot
	Extra    any
}

// Observer is notified as transfers start and finish. Calls are made from
// the engine's loop, one at a time.
type Observer interface {
	TransferStarted(method string)
	TransferFinished(method string, code int, err error, d time.Duration)
}

// Config holds the engine settings.
type Config struct {
	// Concurrency is the maximum number of transfers in flight.
	Concurrency int

	// Logger receives batch and transfer events. Nil uses slog.Default().
	Logger *slog.Logger

	// Limiter, if set, is waited on before each transfer is performed.
	Limiter *rate.Limiter

	// Observer, if set, is told about every transfer.
	Observer Observer

	// Tracer creates one span per transfer. Nil uses the global provider.
	Tracer trace.Tracer

	// OnComplete, if set, is called from the loop for every record as it is
	// produced. It must not block for long: the slot stays occupied until it
	// returns.
	OnComplete func(Record)
}

// Engine executes batches. An Engine may run several batches in sequence or
// concurrently; batches do not share slots.
type Engine struct {
	transport   transport.Transport
	concurrency int
	logger      *slog.Logger
	limiter     *rate.Limiter
	observer    Observer
	tracer      trace.Tracer
	onComplete  func(Record)
}

// New creates an [Engine]. Configuration problems surface from [Engine.Run].
func New(t transport.Transport, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Engine{
		transport:   t,
		concurrency: cfg.Concurrency,
		logger:      logger,
		limiter:     cfg.Limiter,
		observer:    cfg.Observer,
		tracer:      tracer,
		onComplete:  cfg.OnComplete,
	}
}

type handle uint64

// completion is what a transfer goroutine reports back to the loop.
type completion struct {
	handle   handle
	result   transport.Result
	err      error
	duration time.Duration
}

// Run performs every job and returns one record per job.
//
// Run returns an error without performing anything when the engine has no
// transport, the concurrency is below 1 or ctx is already done. Once the
// batch has started, failures are reported per record and Run blocks until
// every transfer has finished. Cancelling ctx mid-batch makes the remaining
// transfers fail fast; they still produce records.
func (e *Engine) Run(ctx context.Context, jobs []Job) ([]Record, error) {
	if e.transport == nil {
		return nil, ErrNoTransport
	}
	if e.concurrency < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, e.concurrency)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch not started: %w", err)
	}

	started := time.Now()
	e.logger.Info("batch started",
		"transfers", len(jobs),
		"concurrency", e.concurrency,
	)

	records := make([]Record, 0, len(jobs))
	inFlight := make(map[handle]Job, min(e.concurrency, len(jobs)))

	// buffered to the cap so a finished transfer never waits on the loop
	done := make(chan completion, e.concurrency)

	next := 0
	var nextHandle handle
	launch := func() {
		job := jobs[next]
		next++
		h := nextHandle
		nextHandle++

		inFlight[h] = job
		if e.observer != nil {
			e.observer.TransferStarted(job.Transfer.Method)
		}
		go e.perform(ctx, h, job.Transfer, done)
	}

	for next < len(jobs) && len(inFlight) < e.concurrency {
		launch()
	}

	var failed int
	for len(inFlight) > 0 {
		c := <-done
		job := inFlight[c.handle]

		rec := correlate(job, c.result, c.err, c.duration)
		records = append(records, rec)
		if rec.Err != nil {
			failed++
		}
		e.finish(job, rec)

		delete(inFlight, c.handle)
		if next < len(jobs) {
			launch()
		}
	}

	e.logger.Info("batch finished",
		"transfers", len(records),
		"failed", failed,
		"duration", time.Since(started),
	)
	return records, nil
}

// finish reports a record to the logger, observer and completion callback.
func (e *Engine) finish(job Job, rec Record) {
	if rec.Err != nil {
		e.logger.Warn("transfer failed",
			"id", rec.ID,
			"method", job.Transfer.Method,
			"url", job.Transfer.URL,
			"error", rec.Err.Error(),
		)
	} else {
		e.logger.Debug("transfer completed",
			"id", rec.ID,
			"method", job.Transfer.Method,
			"url", job.Transfer.URL,
			"code", rec.Code,
			"duration", rec.Duration,
		)
	}

	if e.observer != nil {
		e.observer.TransferFinished(job.Transfer.Method, rec.Code, rec.Err, rec.Duration)
	}
	if e.onComplete != nil {
		e.invokeCallbackSafe(rec)
	}
}

// perform runs one transfer and reports it on done.
func (e *Engine) perform(ctx context.Context, h handle, t transport.Transfer, done chan<- completion) {
	ctx, span := e.tracer.Start(ctx, "mclient.transfer",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", t.Method),
			attribute.String("url.full", t.URL),
		),
	)
	defer span.End()

	start := time.Now()
	var (
		res transport.Result
		err error
	)
	if e.limiter != nil {
		err = e.limiter.Wait(ctx)
	}
	if err == nil {
		res, err = e.safePerform(ctx, t)
	}
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	}

	done <- completion{handle: h, result: res, err: err, duration: elapsed}
}

// safePerform calls the transport with panic recovery.
// A panic is logged with its stack under a correlation ID and returned as
// an error carrying the same ID.
func (e *Engine) safePerform(ctx context.Context, t transport.Transfer) (res transport.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			e.logger.Error("transport panic",
				"correlation_id", correlationID,
				"url", t.URL,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			res = transport.Result{}
			err = fmt.Errorf("%w (correlation_id: %s)", ErrTransportPanic, correlationID)
		}
	}()
	return e.transport.Perform(ctx, t)
}

// invokeCallbackSafe calls the completion callback with panic recovery.
func (e *Engine) invokeCallbackSafe(rec Record) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("completion callback panic",
				"id", rec.ID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	e.onComplete(rec)
}
