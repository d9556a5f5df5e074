package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalConfig(t *testing.T) {
	yaml := `
requests:
  - url: https://example.com
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Concurrency != 0 {
		t.Errorf("Concurrency = %d, want 0", cfg.Concurrency)
	}
	if cfg.ConnectTimeout != nil || cfg.Timeout != nil {
		t.Errorf("timeouts should be unset, got %v %v", cfg.ConnectTimeout, cfg.Timeout)
	}
	if len(cfg.Requests) != 1 {
		t.Fatalf("len(Requests) = %d, want 1", len(cfg.Requests))
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
concurrency: 8
connect_timeout: 2s
timeout: 0s
user_agent: batch/1
throttle:
  rps: 5
  burst: 2

requests:
  - name: login
    method: post
    url: https://api.example.com/login
    query:
      v: "2"
    headers:
      X-Custom: value
    form:
      user: me
    options:
      allow_redirects: false
      cookies: /tmp/jar.json
      force_ip_resolve: v6
      proxy: socks5://127.0.0.1:1080
      verify: 2
      raw:
        max_redirects: 3
        nested:
          a: 1
    extra:
      row: 42
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.ConnectTimeout == nil || cfg.ConnectTimeout.Duration() != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", cfg.ConnectTimeout)
	}
	if cfg.Timeout == nil || cfg.Timeout.Duration() != 0 {
		t.Errorf("Timeout = %v, want explicit 0s", cfg.Timeout)
	}
	if cfg.UserAgent != "batch/1" {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, "batch/1")
	}
	if cfg.Throttle == nil || cfg.Throttle.RPS != 5 || cfg.Throttle.Burst != 2 {
		t.Errorf("Throttle = %+v, want rps 5 burst 2", cfg.Throttle)
	}

	r := cfg.Requests[0]
	if r.Method != "POST" {
		t.Errorf("Method = %q, want POST", r.Method)
	}
	if r.Form["user"] != "me" || r.Query["v"] != "2" || r.Headers["X-Custom"] != "value" {
		t.Errorf("maps not parsed: form=%v query=%v headers=%v", r.Form, r.Query, r.Headers)
	}

	o := r.Options
	if o.AllowRedirects == nil || *o.AllowRedirects {
		t.Errorf("AllowRedirects = %v, want false", o.AllowRedirects)
	}
	if o.Verify == nil || *o.Verify != 2 {
		t.Errorf("Verify = %v, want 2", o.Verify)
	}
	if o.Cookies != "/tmp/jar.json" || o.ForceIPResolve != "v6" || o.Proxy != "socks5://127.0.0.1:1080" {
		t.Errorf("options not parsed: %+v", o)
	}
	if o.Raw["max_redirects"] != 3 {
		t.Errorf("Raw[max_redirects] = %v (%T), want 3", o.Raw["max_redirects"], o.Raw["max_redirects"])
	}
	if _, ok := o.Raw["nested"].(map[string]any); !ok {
		t.Errorf("Raw[nested] = %T, want map[string]any", o.Raw["nested"])
	}

	extra, ok := r.Extra.(map[string]any)
	if !ok || extra["row"] != 42 {
		t.Errorf("Extra = %v, want map with row 42", r.Extra)
	}
}

func TestParse_EnvVarExpansion(t *testing.T) {
	t.Setenv("MCLIENT_TEST_HOST", "api.example.com")
	t.Setenv("MCLIENT_TEST_TOKEN", "secret")

	yaml := `
user_agent: ${MCLIENT_TEST_UA:-batch/default}
requests:
  - method: POST
    url: https://${MCLIENT_TEST_HOST}/items
    headers:
      Authorization: Bearer ${MCLIENT_TEST_TOKEN}
    query:
      token: ${MCLIENT_TEST_TOKEN}
    body: '{"token":"${MCLIENT_TEST_TOKEN}"}'
    options:
      proxy: ${MCLIENT_TEST_PROXY:-http://127.0.0.1:3128}
      cookies: ${MCLIENT_TEST_COOKIES:-}
grids:
  - name: g
    url_template: https://${MCLIENT_TEST_HOST}/{{.x}}
    dimensions:
      x: [a]
    headers:
      X-Token: ${MCLIENT_TEST_TOKEN}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	r := cfg.Requests[0]
	if r.URL != "https://api.example.com/items" {
		t.Errorf("URL = %q", r.URL)
	}
	if r.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization = %q", r.Headers["Authorization"])
	}
	if r.Query["token"] != "secret" {
		t.Errorf("query token = %q", r.Query["token"])
	}
	if *r.Body != `{"token":"secret"}` {
		t.Errorf("Body = %q", *r.Body)
	}
	if r.Options.Proxy != "http://127.0.0.1:3128" {
		t.Errorf("Proxy = %q, want default", r.Options.Proxy)
	}
	if r.Options.Cookies != "" {
		t.Errorf("Cookies = %q, want empty default", r.Options.Cookies)
	}
	if cfg.UserAgent != "batch/default" {
		t.Errorf("UserAgent = %q, want default", cfg.UserAgent)
	}

	g := cfg.Grids[0]
	if g.URLTemplate != "https://api.example.com/{{.x}}" {
		t.Errorf("URLTemplate = %q", g.URLTemplate)
	}
	if g.Headers["X-Token"] != "secret" {
		t.Errorf("grid X-Token = %q", g.Headers["X-Token"])
	}
}

func TestParse_MissingEnvVar(t *testing.T) {
	yaml := `
requests:
  - url: https://${MCLIENT_TEST_UNSET_VAR}/x
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "MCLIENT_TEST_UNSET_VAR") || !strings.Contains(err.Error(), "requests[0]: url") {
		t.Errorf("Parse() error = %v, want missing variable error", err)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			yaml:    "requests: [",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "nothing to run",
			yaml:    "concurrency: 2",
			wantErr: "at least one request or grid",
		},
		{
			name:    "missing url",
			yaml:    "requests:\n  - name: x",
			wantErr: "requests[0].url: This field is required",
		},
		{
			name:    "non-http url",
			yaml:    "requests:\n  - url: ftp://example.com",
			wantErr: "requests[0].url: must be an http or https URL",
		},
		{
			name:    "bad method",
			yaml:    "requests:\n  - url: https://example.com\n    method: FETCH",
			wantErr: "requests[0].method",
		},
		{
			name:    "negative concurrency",
			yaml:    "concurrency: -1\nrequests:\n  - url: https://example.com",
			wantErr: "concurrency",
		},
		{
			name:    "negative timeout",
			yaml:    "timeout: -1s\nrequests:\n  - url: https://example.com",
			wantErr: "timeout",
		},
		{
			name:    "bad duration",
			yaml:    "timeout: soon\nrequests:\n  - url: https://example.com",
			wantErr: "invalid duration",
		},
		{
			name:    "zero throttle rate",
			yaml:    "throttle:\n  rps: 0\n  burst: 1\nrequests:\n  - url: https://example.com",
			wantErr: "throttle.rps",
		},
		{
			name:    "bad verify",
			yaml:    "requests:\n  - url: https://example.com\n    options:\n      verify: 1",
			wantErr: "requests[0].options.verify",
		},
		{
			name:    "bad ip family",
			yaml:    "requests:\n  - url: https://example.com\n    options:\n      force_ip_resolve: v5",
			wantErr: "requests[0].options.force_ip_resolve",
		},
		{
			name:    "form and body",
			yaml:    "requests:\n  - url: https://example.com\n    method: POST\n    form:\n      a: b\n    body: raw",
			wantErr: "cannot be combined with body",
		},
		{
			name:    "body on get",
			yaml:    "requests:\n  - url: https://example.com\n    body: raw",
			wantErr: "only allowed with method POST",
		},
		{
			name:    "unsupported proxy scheme",
			yaml:    "requests:\n  - url: https://example.com\n    options:\n      proxy: ftp://127.0.0.1:21",
			wantErr: "proxy scheme",
		},
		{
			name:    "grid without name",
			yaml:    "grids:\n  - url_template: https://x/{{.a}}\n    dimensions:\n      a: [1]",
			wantErr: "grids[0].name: This field is required",
		},
		{
			name:    "grid without dimensions",
			yaml:    "grids:\n  - name: g\n    url_template: https://x/",
			wantErr: "grids[0].dimensions",
		},
		{
			name:    "grid dimension without values",
			yaml:    "grids:\n  - name: g\n    url_template: https://x/{{.a}}\n    dimensions:\n      a: []",
			wantErr: "grids[0].dimensions[a]",
		},
		{
			name:    "grid duplicate dimension values",
			yaml:    "grids:\n  - name: g\n    url_template: https://x/{{.a}}\n    dimensions:\n      a: [1, 1]",
			wantErr: "must not contain duplicate values",
		},
		{
			name:    "grid bad template",
			yaml:    "grids:\n  - name: g\n    url_template: https://x/{{.a\n    dimensions:\n      a: [1]",
			wantErr: "invalid url_template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_FieldErrors(t *testing.T) {
	cfg := &Config{
		Concurrency: -2,
		Requests:    []RequestConfig{{Name: "a"}},
	}

	err := Validate(cfg)
	var fields FieldErrors
	if !errors.As(err, &fields) {
		t.Fatalf("Validate() error = %v (%T), want FieldErrors", err, err)
	}

	got := make(map[string]bool, len(fields))
	for _, f := range fields {
		got[f.Field] = true
	}
	for _, want := range []string{"concurrency", "requests[0].url"} {
		if !got[want] {
			t.Errorf("missing field error for %q in %v", want, fields)
		}
	}
}

func TestFieldErrors_Error(t *testing.T) {
	fe := FieldErrors{
		{Field: "a", Err: "bad"},
		{Field: "b", Err: "worse"},
	}
	if got := fe.Error(); got != "a: bad; b: worse" {
		t.Errorf("Error() = %q", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte("requests:\n  - url: https://example.com\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Requests[0].URL != "https://example.com" {
		t.Errorf("URL = %q", cfg.Requests[0].URL)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_ExampleBatchFile(t *testing.T) {
	cfg, err := Load("../example/batch.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Timeout == nil {
		t.Fatal("Timeout should be set")
	}
	if _, set := os.LookupEnv("MCLIENT_TIMEOUT"); !set && cfg.Timeout.Duration() != 3*time.Second {
		t.Errorf("Timeout = %v, want default 3s", cfg.Timeout.Duration())
	}

	requests, err := Expand(cfg)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(requests) != 9 {
		t.Errorf("len(requests) = %d, want 5 direct + 4 from grids", len(requests))
	}
}

func TestParse_DurationEnvVars(t *testing.T) {
	t.Setenv("MCLIENT_TEST_TIMEOUT", "750ms")

	yaml := `
connect_timeout: ${MCLIENT_TEST_CONNECT:-2s}
timeout: ${MCLIENT_TEST_TIMEOUT}
requests:
  - url: https://example.com
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := cfg.ConnectTimeout.Duration(); got != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", got)
	}
	if got := cfg.Timeout.Duration(); got != 750*time.Millisecond {
		t.Errorf("Timeout = %v, want 750ms", got)
	}

	_, err = Parse([]byte("timeout: ${MCLIENT_TEST_UNSET_TIMEOUT}\nrequests:\n  - url: https://example.com\n"))
	if err == nil || !strings.Contains(err.Error(), "MCLIENT_TEST_UNSET_TIMEOUT") {
		t.Errorf("Parse() error = %v, want missing variable error", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MCLIENT_TEST_SET", "value")
	t.Setenv("MCLIENT_TEST_EMPTY", "")

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "plain", want: "plain"},
		{in: "${MCLIENT_TEST_SET}", want: "value"},
		{in: "a-${MCLIENT_TEST_SET}-b", want: "a-value-b"},
		{in: "${MCLIENT_TEST_EMPTY:-fallback}", want: ""},
		{in: "${MCLIENT_TEST_NOPE:-fallback}", want: "fallback"},
		{in: "${MCLIENT_TEST_NOPE:-}", want: ""},
		{in: "${MCLIENT_TEST_NOPE}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := expandEnvVars(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expandEnvVars() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnvVars() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
