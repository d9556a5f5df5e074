package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahelbir/mclient/internal/headers"
	"github.com/mahelbir/mclient/internal/resolve"
	"github.com/mahelbir/mclient/internal/transport"
)

// Record is the normalized outcome of one transfer.
type Record struct {
	// ID identifies the record in logs and callbacks.
	ID string

	// Code is the HTTP status, or 0 when the transfer failed.
	Code int

	// Body is the response body with surrounding ASCII whitespace and NUL
	// bytes trimmed.
	Body string

	// Headers maps lower-cased names to their values in arrival order.
	Headers map[string][]string

	// Snapshot is the request as the caller described it.
	Snapshot resolve.Snapshot

	// Extra is the caller metadata from the job, untouched.
	Extra any

	// Err is the transport failure, if any.
	Err error

	// Duration is the time spent waiting for and performing the transfer.
	Duration time.Duration
}

// bodyTrimSet is trimmed from both ends of a body. Unicode spaces such as
// U+00A0 are kept.
const bodyTrimSet = " \t\n\r\x00\x0b"

// correlate joins what was sent (the job) with what came back.
func correlate(job Job, res transport.Result, err error, d time.Duration) Record {
	rec := Record{
		ID:       uuid.NewString(),
		Snapshot: job.Snapshot,
		Extra:    job.Extra,
		Duration: d,
	}

	if err != nil {
		rec.Err = err
		rec.Headers = map[string][]string{}
		return rec
	}

	rec.Code = res.StatusCode
	rec.Body = strings.Trim(res.Body, bodyTrimSet)
	rec.Headers = headers.Decode(res.RawHeaders)
	return rec
}
