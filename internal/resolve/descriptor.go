package resolve

import (
	"maps"
	"net/url"
)

// Descriptor is one queued request.
type Descriptor struct {
	// Method is the upper-cased HTTP verb.
	Method string

	// URL is the final request URL, query already appended.
	URL string

	// Headers maps lower-cased names to a single value.
	Headers map[string]string

	Options Options

	// Extra is caller metadata carried to the response. Never inspected.
	Extra any
}

// Options are the per-request settings a caller may declare.
type Options struct {
	// AllowRedirects defaults to true when nil.
	AllowRedirects *bool

	// Cookies is a cookie file path used for both reading and writing.
	Cookies string

	// ForceIPResolve is "v4" or "v6".
	ForceIPResolve string

	// Proxy is a proxy URI. Takes precedence over Interface.
	Proxy string

	// Interface is a local address to bind to.
	Interface string

	// Verify is 0 (no TLS verification) or 2 (full). Nil means 0.
	Verify *int

	// Raw transport overrides, applied last.
	Raw map[string]any

	// FormParams are the fields of a form post.
	FormParams url.Values

	// Post is the encoded form body; HasPost marks it as set.
	Post    string
	HasPost bool

	// Body is a raw body; HasBody marks it as set so empty bodies are kept.
	Body    string
	HasBody bool

	// Query holds the parameters a GET appended to its URL.
	Query url.Values

	// OriginalURL is the URL before the query was appended.
	OriginalURL string
}

// Snapshot is the caller-visible copy of a descriptor attached to its
// response. Internal body-selection fields are stripped and the URL is the
// one the caller passed in.
type Snapshot struct {
	Method  string
	URL     string
	Headers map[string]string
	Options Options
}

// snapshot builds the caller-facing view of d. hdrs are the headers actually
// sent, so an injected user-agent is visible to the caller.
func snapshot(d Descriptor, hdrs map[string]string) Snapshot {
	o := d.Options
	o.Raw = cloneRaw(o.Raw)
	o.FormParams = cloneValues(o.FormParams)
	o.Query = cloneValues(o.Query)

	u := d.URL
	if o.OriginalURL != "" {
		u = o.OriginalURL
	}
	o.OriginalURL = ""
	o.Post = ""
	o.HasPost = false

	return Snapshot{
		Method:  d.Method,
		URL:     u,
		Headers: maps.Clone(hdrs),
		Options: o,
	}
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func cloneRaw(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	out := make(map[string]any, len(raw))
	mergeRecursive(out, raw)
	return out
}
