// Package transport defines the seam between the batch engine and whatever
// performs the actual HTTP transfer.
//
// The engine only needs one capability: execute a single transfer described
// by a [Transfer] and hand back the status code, raw header block and body.
// [HTTP] is the default implementation built on net/http; tests and callers
// may supply their own [Transport].
package transport

import (
	"context"
	"time"
)

// IPResolve pins the IP family used to reach the remote host.
type IPResolve int

const (
	// IPAny lets the resolver pick either family.
	IPAny IPResolve = iota
	// IPv4 restricts connections to IPv4.
	IPv4
	// IPv6 restricts connections to IPv6.
	IPv6
)

// String returns "v4", "v6" or "any".
func (ip IPResolve) String() string {
	switch ip {
	case IPv4:
		return "v4"
	case IPv6:
		return "v6"
	default:
		return "any"
	}
}

// Options is the canonical, resolved set of settings for one transfer.
type Options struct {
	// Timeout bounds the whole transfer. Zero means no limit.
	Timeout time.Duration

	// ConnectTimeout bounds connection establishment. Zero means no limit.
	ConnectTimeout time.Duration

	// FollowRedirects enables following 3xx responses.
	FollowRedirects bool

	// VerifyPeer enables TLS certificate chain verification.
	VerifyPeer bool

	// VerifyHost enables TLS host name verification.
	VerifyHost bool

	// CookieFile is read for cookies before the transfer. Empty disables.
	CookieFile string

	// CookieJar receives cookies set by the server. Empty disables.
	CookieJar string

	// IPResolve pins the IP family.
	IPResolve IPResolve

	// Proxy is the proxy URI (http, https or socks5). Empty disables.
	Proxy string

	// Interface is the local address to bind outgoing connections to.
	Interface string

	// Raw holds transport-specific overrides that have no typed field.
	Raw map[string]any
}

// Transfer describes a single HTTP request handed to a [Transport].
type Transfer struct {
	Method      string
	URL         string
	Body        string
	HeaderLines []string
	Options     Options
}

// Result is the raw outcome of a successful transfer.
type Result struct {
	// StatusCode is the HTTP status of the final response.
	StatusCode int

	// RawHeaders is the header block as text, starting with the status line.
	RawHeaders string

	// Body is the full response body.
	Body string
}

// Transport performs HTTP transfers.
//
// Perform returns an error only for transport-level failures (DNS, connect,
// TLS, timeouts, resets). Any HTTP status, including 4xx and 5xx, is a
// successful transfer. Implementations must be safe for concurrent use.
type Transport interface {
	Perform(ctx context.Context, t Transfer) (Result, error)
}

// Func adapts an ordinary function to the [Transport] interface.
type Func func(ctx context.Context, t Transfer) (Result, error)

// Perform calls f(ctx, t).
func (f Func) Perform(ctx context.Context, t Transfer) (Result, error) {
	return f(ctx, t)
}
