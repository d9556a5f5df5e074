package config

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"text/template"

	"github.com/mahelbir/mclient"
)

// NewClient creates a client from the batch settings in cfg. opts are
// applied after them, so callers can override any setting.
func NewClient(cfg *Config, opts ...mclient.Option) (*mclient.Client, error) {
	var base []mclient.Option

	if cfg.Concurrency > 0 {
		base = append(base, mclient.WithConcurrency(cfg.Concurrency))
	}
	if cfg.ConnectTimeout != nil {
		base = append(base, mclient.WithConnectTimeout(cfg.ConnectTimeout.Duration()))
	}
	if cfg.Timeout != nil {
		base = append(base, mclient.WithTimeout(cfg.Timeout.Duration()))
	}
	if cfg.UserAgent != "" {
		base = append(base, mclient.WithUserAgent(cfg.UserAgent))
	}
	if cfg.Throttle != nil {
		base = append(base, mclient.WithThrottle(cfg.Throttle.RPS, cfg.Throttle.Burst))
	}

	return mclient.New(append(base, opts...)...)
}

// Enqueue queues every request of cfg on c and returns how many were
// queued. Nothing is queued if a grid fails to expand.
func Enqueue(c *mclient.Client, cfg *Config) (int, error) {
	requests, err := Expand(cfg)
	if err != nil {
		return 0, err
	}

	for _, r := range requests {
		enqueueRequest(c, r)
	}
	return len(requests), nil
}

// Expand returns the requests of cfg in file order, followed by the
// expansion of each grid.
func Expand(cfg *Config) ([]RequestConfig, error) {
	requests := make([]RequestConfig, 0, len(cfg.Requests))
	requests = append(requests, cfg.Requests...)

	for _, gc := range cfg.Grids {
		expanded, err := expandGrid(gc)
		if err != nil {
			return nil, err
		}
		requests = append(requests, expanded...)
	}

	return requests, nil
}

// expandGrid turns a GridConfig into one request per dimension combination.
func expandGrid(gc GridConfig) ([]RequestConfig, error) {
	// use missingkey=error to fail fast on missing template variables
	tmpl, err := template.New("url").Option("missingkey=error").Parse(gc.URLTemplate)
	if err != nil {
		return nil, fmt.Errorf("grid (%s): invalid url_template: %w", gc.Name, err)
	}

	combinations := cartesianProduct(gc.Dimensions)

	requests := make([]RequestConfig, 0, len(combinations))
	for _, combo := range combinations {
		var buf strings.Builder
		if err := tmpl.Execute(&buf, queryEscapeMap(combo)); err != nil {
			return nil, fmt.Errorf("grid (%s) with dimensions %v: template execution failed: %w", gc.Name, combo, err)
		}

		requests = append(requests, RequestConfig{
			Name:    buildGridName(gc.Name, combo),
			Method:  gc.Method,
			URL:     buf.String(),
			Query:   maps.Clone(gc.Query),
			Headers: maps.Clone(gc.Headers),
			Form:    maps.Clone(gc.Form),
			Body:    gc.Body,
			Options: gc.Options,
		})
	}

	return requests, nil
}

// buildGridName creates a display name such as "health (eu/api)", with
// values ordered by dimension name.
func buildGridName(baseName string, combo map[string]string) string {
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = combo[k]
	}
	return fmt.Sprintf("%s (%s)", baseName, strings.Join(parts, "/"))
}

// cartesianProduct generates all combinations of dimension values.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	// sort dimension keys for deterministic ordering
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// start with single empty combination
	result := []map[string]string{{}}

	for _, key := range keys {
		var next []map[string]string
		for _, combo := range result {
			for _, val := range dimensions[key] {
				c := maps.Clone(combo)
				c[key] = val
				next = append(next, c)
			}
		}
		result = next
	}

	return result
}

func queryEscapeMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = url.QueryEscape(v)
	}
	return result
}

func enqueueRequest(c *mclient.Client, r RequestConfig) {
	opts := r.Options.requestOptions()
	extra := r.Extra
	if extra == nil {
		extra = r.Name
	}

	switch r.Method {
	case "", http.MethodGet:
		c.Get(r.URL, r.Query, r.Headers, opts, extra)
	case http.MethodPost:
		target := withQuery(r.URL, r.Query)
		switch {
		case len(r.Form) > 0:
			c.Post(target, r.Form, r.Headers, opts, extra)
		case r.Body != nil:
			c.Post(target, *r.Body, r.Headers, opts, extra)
		default:
			c.Post(target, nil, r.Headers, opts, extra)
		}
	default:
		c.Request(r.Method, withQuery(r.URL, r.Query), r.Headers, opts, extra)
	}
}

// withQuery appends encoded query parameters to rawURL.
func withQuery(rawURL string, query map[string]string) string {
	if len(query) == 0 {
		return rawURL
	}

	values := make(url.Values, len(query))
	for k, v := range query {
		values.Set(k, v)
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + values.Encode()
}

func (o OptionsConfig) requestOptions() mclient.RequestOptions {
	return mclient.RequestOptions{
		AllowRedirects: o.AllowRedirects,
		Cookies:        o.Cookies,
		ForceIPResolve: o.ForceIPResolve,
		Proxy:          o.Proxy,
		Interface:      o.Interface,
		Verify:         o.Verify,
		Raw:            maps.Clone(o.Raw),
	}
}
