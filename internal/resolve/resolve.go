// Package resolve turns a queued request descriptor plus client defaults into
// the transfer handed to the transport and the snapshot reported back to the
// caller.
//
// Resolve is a pure function: it performs no I/O and does not validate
// option values beyond what is needed to map them onto typed fields.
// Values it cannot interpret are passed through to the transport untouched.
package resolve

import (
	"strings"
	"time"

	"github.com/mahelbir/mclient/internal/headers"
	"github.com/mahelbir/mclient/internal/transport"
)

// Raw override keys that map onto typed transport settings. Any other key is
// forwarded in [transport.Options.Raw].
const (
	RawTimeout         = "timeout"
	RawConnectTimeout  = "connect_timeout"
	RawFollowRedirects = "follow_redirects"
	RawVerifyPeer      = "verify_peer"
	RawVerifyHost      = "verify_host"
	RawCookieFile      = "cookie_file"
	RawCookieJar       = "cookie_jar"
	RawIPResolve       = "ip_resolve"
	RawProxy           = "proxy"
	RawInterface       = "interface"
)

// Defaults are the client-wide settings applied to every transfer.
type Defaults struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	UserAgent      string
}

// Resolved is the outcome of resolving one descriptor.
type Resolved struct {
	Transfer transport.Transfer
	Snapshot Snapshot
}

// Resolve maps d onto a transfer using def for everything d leaves unset.
func Resolve(d Descriptor, def Defaults) Resolved {
	o := d.Options

	opts := transport.Options{
		Timeout:         def.Timeout,
		ConnectTimeout:  def.ConnectTimeout,
		FollowRedirects: true,
	}

	if o.AllowRedirects != nil {
		opts.FollowRedirects = *o.AllowRedirects
	}

	verify := 0
	if o.Verify != nil {
		verify = *o.Verify
	}
	opts.VerifyPeer = verify != 0
	opts.VerifyHost = verify != 0

	if o.Cookies != "" {
		opts.CookieFile = o.Cookies
		opts.CookieJar = o.Cookies
	}

	if o.ForceIPResolve != "" {
		opts.IPResolve = parseIPResolve(o.ForceIPResolve)
	}

	// proxy wins; a colon in the interface is taken as an IPv6 literal
	if o.Proxy != "" {
		opts.Proxy = o.Proxy
	} else if o.Interface != "" {
		opts.IPResolve = transport.IPv4
		if strings.Contains(o.Interface, ":") {
			opts.IPResolve = transport.IPv6
		}
		opts.Interface = o.Interface
	}

	hdrs := make(map[string]string, len(d.Headers)+1)
	for k, v := range d.Headers {
		hdrs[k] = v
	}
	if !headers.Has(hdrs, "user-agent") && def.UserAgent != "" {
		hdrs["user-agent"] = def.UserAgent
	}

	applyRaw(&opts, o.Raw)

	return Resolved{
		Transfer: transport.Transfer{
			Method:      d.Method,
			URL:         d.URL,
			Body:        selectBody(o),
			HeaderLines: headers.Encode(hdrs),
			Options:     opts,
		},
		Snapshot: snapshot(d, hdrs),
	}
}

// selectBody picks the payload: post, then body. A query only describes
// what was already appended to the URL, so it is never sent as a body.
func selectBody(o Options) string {
	switch {
	case o.HasPost:
		return o.Post
	case o.HasBody:
		return o.Body
	default:
		return ""
	}
}

// parseIPResolve reads "v6" in any case as IPv6 and anything else as IPv4.
func parseIPResolve(s string) transport.IPResolve {
	if strings.EqualFold(strings.TrimSpace(s), "v6") {
		return transport.IPv6
	}
	return transport.IPv4
}

// applyRaw layers raw overrides on top of the computed options. Recognised
// keys with usable values replace typed fields; everything else, including
// recognised keys whose value cannot be read, is merged into opts.Raw.
func applyRaw(opts *transport.Options, raw map[string]any) {
	if len(raw) == 0 {
		return
	}

	rest := make(map[string]any)
	for k, v := range raw {
		if !applyTyped(opts, raw, k) {
			rest[k] = v
		}
	}

	if len(rest) > 0 {
		if opts.Raw == nil {
			opts.Raw = make(map[string]any, len(rest))
		}
		mergeRecursive(opts.Raw, rest)
	}
}

func applyTyped(opts *transport.Options, raw map[string]any, key string) bool {
	switch key {
	case RawTimeout:
		d, ok := transport.RawDuration(raw, key)
		if ok {
			opts.Timeout = d
		}
		return ok
	case RawConnectTimeout:
		d, ok := transport.RawDuration(raw, key)
		if ok {
			opts.ConnectTimeout = d
		}
		return ok
	case RawFollowRedirects:
		b, ok := transport.RawBool(raw, key)
		if ok {
			opts.FollowRedirects = b
		}
		return ok
	case RawVerifyPeer:
		b, ok := transport.RawBool(raw, key)
		if ok {
			opts.VerifyPeer = b
		}
		return ok
	case RawVerifyHost:
		b, ok := transport.RawBool(raw, key)
		if ok {
			opts.VerifyHost = b
		}
		return ok
	case RawCookieFile:
		s, ok := transport.RawString(raw, key)
		if ok {
			opts.CookieFile = s
		}
		return ok
	case RawCookieJar:
		s, ok := transport.RawString(raw, key)
		if ok {
			opts.CookieJar = s
		}
		return ok
	case RawIPResolve:
		s, ok := transport.RawString(raw, key)
		if ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "", "any", "whatever":
				opts.IPResolve = transport.IPAny
			default:
				opts.IPResolve = parseIPResolve(s)
			}
		}
		return ok
	case RawProxy:
		s, ok := transport.RawString(raw, key)
		if ok {
			opts.Proxy = s
		}
		return ok
	case RawInterface:
		s, ok := transport.RawString(raw, key)
		if ok {
			opts.Interface = s
		}
		return ok
	default:
		return false
	}
}

// mergeRecursive copies src into dst. Nested maps present on both sides are
// merged key by key; any other src value replaces the dst value.
func mergeRecursive(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		if !srcIsMap {
			dst[k] = v
			continue
		}
		dstMap, dstIsMap := dst[k].(map[string]any)
		if !dstIsMap {
			dstMap = make(map[string]any, len(srcMap))
			dst[k] = dstMap
		}
		mergeRecursive(dstMap, srcMap)
	}
}
