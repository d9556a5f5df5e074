package mclient

import "errors"

var (
	// ErrInvalidConcurrency is returned when the concurrency is below 1.
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")

	// ErrNegativeTimeout is returned when a timeout is negative.
	ErrNegativeTimeout = errors.New("timeout must not be negative")

	// ErrNotSingle is returned by [Client.ExecuteSingle] when the queue does
	// not hold exactly one request.
	ErrNotSingle = errors.New("single execution requires exactly one queued request")

	// ErrBusy is returned when the concurrency is changed while a batch runs.
	ErrBusy = errors.New("cannot change concurrency while a batch is running")
)
