package mclient

import (
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/mahelbir/mclient/internal/engine"
)

// RequestSnapshot is the request as the caller queued it, attached to its
// [Response].
type RequestSnapshot struct {
	// Method is the upper-cased HTTP verb.
	Method string

	// URL is the URL passed to Request, Get or Post, without query
	// parameters Get appended.
	URL string

	// Headers are the headers sent, including an injected user-agent.
	Headers map[string]string

	Options RequestOptions

	// FormParams are the fields of a form-encoded Post.
	FormParams url.Values

	// Query are the parameters passed to Get.
	Query url.Values

	// Body is the raw body passed to Post, if any.
	Body string
}

// Response is the outcome of one queued request.
//
// A Response is produced for every request, including those whose transfer
// failed: in that case Err is set, Code is 0 and Body and Headers are empty.
// Any HTTP status, including 4xx and 5xx, is a completed transfer with a nil
// Err.
type Response struct {
	// ID uniquely identifies the response in logs and callbacks.
	ID string

	// Code is the HTTP status code, or 0 if the transfer failed.
	Code int

	// Body is the response body with surrounding ASCII whitespace and NUL
	// bytes trimmed.
	Body string

	// Headers maps lower-cased header names to their values in the order
	// received. Names may repeat, as Set-Cookie usually does.
	Headers map[string][]string

	// Request is a snapshot of the originating request.
	Request RequestSnapshot

	// Extra is the value passed when the request was queued, untouched.
	Extra any

	// Err is the transport failure, or nil.
	Err error

	// Duration is the time the transfer took.
	Duration time.Duration
}

// OK reports whether the transfer completed with a 2xx status.
func (r Response) OK() bool {
	return r.Err == nil && r.Code >= 200 && r.Code < 300
}

// Header returns the first value of the named header, ignoring case, or ""
// if absent.
func (r Response) Header(name string) string {
	if v := r.Headers[strings.ToLower(name)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// recordToResponse converts an engine record to the public type.
// Mutable fields are copied so callbacks cannot affect each other.
func recordToResponse(rec engine.Record) Response {
	s := rec.Snapshot

	headers := make(map[string][]string, len(rec.Headers))
	for k, v := range rec.Headers {
		headers[k] = append([]string(nil), v...)
	}

	return Response{
		ID:      rec.ID,
		Code:    rec.Code,
		Body:    rec.Body,
		Headers: headers,
		Request: RequestSnapshot{
			Method:     s.Method,
			URL:        s.URL,
			Headers:    maps.Clone(s.Headers),
			Options:    fromResolveOptions(s.Options),
			FormParams: cloneValues(s.Options.FormParams),
			Query:      cloneValues(s.Options.Query),
			Body:       s.Options.Body,
		},
		Extra:    rec.Extra,
		Err:      rec.Err,
		Duration: rec.Duration,
	}
}
