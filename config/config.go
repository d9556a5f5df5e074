// Package config provides YAML batch file parsing for mclient.
//
// A batch file describes client settings and the requests to queue, so a
// batch can be run from the mclient command instead of from Go code.
//
// Example batch file:
//
//	concurrency: 10
//	connect_timeout: 3s
//	timeout: ${BATCH_TIMEOUT:-30s}
//	throttle:
//	  rps: 20
//	  burst: 5
//
//	requests:
//	  - name: users
//	    url: https://api.example.com/users
//	    query:
//	      page: "2"
//	    headers:
//	      Authorization: Bearer ${API_TOKEN}
//	  - name: login
//	    method: POST
//	    url: https://api.example.com/login
//	    form:
//	      user: me
//	    options:
//	      verify: 2
//
//	grids:
//	  - name: health
//	    url_template: "https://{{.region}}.example.com/{{.svc}}/health"
//	    dimensions:
//	      region: [eu, us]
//	      svc: [api, web]
//
// Environment variables (${VAR} or ${VAR:-default}) are expanded in URLs, URL
// templates, query, header and form values, bodies, proxies, cookie files,
// the user agent and durations.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root structure of a batch file.
//
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Concurrency is the number of transfers run at once. Zero keeps the
	// client default.
	Concurrency int `yaml:"concurrency" validate:"gte=0"`

	// ConnectTimeout bounds connection setup. Unset keeps the client
	// default; 0s means no limit.
	ConnectTimeout *Duration `yaml:"connect_timeout" validate:"omitempty,gte=0"`

	// Timeout bounds each whole transfer. Unset or 0s means no limit.
	Timeout *Duration `yaml:"timeout" validate:"omitempty,gte=0"`

	// UserAgent replaces the default User-Agent header.
	UserAgent string `yaml:"user_agent"`

	// Throttle caps how fast transfers start.
	Throttle *ThrottleConfig `yaml:"throttle"`

	Requests []RequestConfig `yaml:"requests" validate:"dive"`

	// Grids expand into one request per combination of dimension values.
	Grids []GridConfig `yaml:"grids" validate:"dive"`
}

// ThrottleConfig configures the start rate limiter.
type ThrottleConfig struct {
	RPS   float64 `yaml:"rps" validate:"gt=0"`
	Burst int     `yaml:"burst" validate:"gte=1"`
}

// RequestConfig is a single request in a batch file.
type RequestConfig struct {
	// Name identifies the request in output. It is used as the extra value
	// when Extra is not set.
	Name string `yaml:"name"`

	// Method defaults to GET.
	Method string `yaml:"method" validate:"omitempty,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`

	// URL supports environment variable substitution: ${VAR} or ${VAR:-default}.
	URL string `yaml:"url" validate:"required,http_url"`

	// Query parameters are appended to the URL.
	Query map[string]string `yaml:"query"`

	// Headers values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Form is sent form-encoded. POST only.
	Form map[string]string `yaml:"form" validate:"excluded_with=Body"`

	// Body is sent verbatim. POST only.
	Body *string `yaml:"body"`

	Options OptionsConfig `yaml:"options"`

	// Extra is returned untouched with the response.
	Extra any `yaml:"extra"`
}

// GridConfig defines requests that expand via cartesian product.
//
// For example, with dimensions {region: [eu, us], svc: [api, web]}, the grid
// expands to 4 requests: eu/api, eu/web, us/api, us/web.
type GridConfig struct {
	// Name is the base name for generated requests.
	Name string `yaml:"name" validate:"required"`

	// URLTemplate is a Go template for generating request URLs. Dimension
	// keys are available as template variables: {{.region}}, {{.svc}}.
	// Values are query-escaped before substitution.
	URLTemplate string `yaml:"url_template" validate:"required"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions" validate:"required,min=1,dive,min=1,unique"`

	Method  string            `yaml:"method" validate:"omitempty,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	Query   map[string]string `yaml:"query"`
	Headers map[string]string `yaml:"headers"`
	Form    map[string]string `yaml:"form" validate:"excluded_with=Body"`
	Body    *string           `yaml:"body"`
	Options OptionsConfig     `yaml:"options"`
}

// OptionsConfig mirrors [mclient.RequestOptions].
type OptionsConfig struct {
	AllowRedirects *bool          `yaml:"allow_redirects"`
	Cookies        string         `yaml:"cookies"`
	ForceIPResolve string         `yaml:"force_ip_resolve" validate:"omitempty,oneof=v4 v6 V4 V6"`
	Proxy          string         `yaml:"proxy" validate:"omitempty,url"`
	Interface      string         `yaml:"interface"`
	Verify         *int           `yaml:"verify" validate:"omitempty,oneof=0 2"`
	Raw            map[string]any `yaml:"raw"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration. Environment
// variables in the value are expanded before parsing.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	s, err := expandEnvVars(s)
	if err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML batch file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML batch data.
//
// Environment variables are expanded in URLs, URL templates, query, header
// and form values, bodies, proxies, cookie files and the user agent before
// validation; durations expand them while decoding.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expand(); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expand substitutes environment variables in every string field that
// carries user data.
func (c *Config) expand() error {
	for i := range c.Requests {
		r := &c.Requests[i]
		ctx := fmt.Sprintf("requests[%d]", i)
		r.Method = strings.ToUpper(r.Method)

		if err := expandField(&r.URL, ctx, "url"); err != nil {
			return err
		}
		if err := expandRequestParts(ctx, r.Query, r.Headers, r.Form, r.Body, &r.Options); err != nil {
			return err
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]
		ctx := fmt.Sprintf("grids[%d] (%s)", i, g.Name)
		g.Method = strings.ToUpper(g.Method)

		if err := expandField(&g.URLTemplate, ctx, "url_template"); err != nil {
			return err
		}
		if err := expandRequestParts(ctx, g.Query, g.Headers, g.Form, g.Body, &g.Options); err != nil {
			return err
		}
	}

	if c.UserAgent != "" {
		if err := expandField(&c.UserAgent, "batch", "user_agent"); err != nil {
			return err
		}
	}
	return nil
}

func expandRequestParts(ctx string, query, headers, form map[string]string, body *string, opts *OptionsConfig) error {
	for name, m := range map[string]map[string]string{"query": query, "headers": headers, "form": form} {
		for k, v := range m {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("%s: %s[%s]: %w", ctx, name, k, err)
			}
			m[k] = expanded
		}
	}

	if body != nil {
		if err := expandField(body, ctx, "body"); err != nil {
			return err
		}
	}
	if err := expandField(&opts.Proxy, ctx, "options.proxy"); err != nil {
		return err
	}
	return expandField(&opts.Cookies, ctx, "options.cookies")
}

func expandField(s *string, ctx, field string) error {
	expanded, err := expandEnvVars(*s)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", ctx, field, err)
	}
	*s = expanded
	return nil
}

// check enforces the rules struct tags cannot express.
func (c *Config) check() error {
	for i, r := range c.Requests {
		ctx := fmt.Sprintf("requests[%d]", i)
		if r.Name != "" {
			ctx = fmt.Sprintf("requests[%d] (%s)", i, r.Name)
		}
		if err := checkBody(ctx, r.Method, r.Form, r.Body); err != nil {
			return err
		}
		if err := checkProxy(ctx, r.Options.Proxy); err != nil {
			return err
		}
	}

	for i, g := range c.Grids {
		ctx := fmt.Sprintf("grids[%d] (%s)", i, g.Name)

		// fail fast before expansion tries to use an invalid template
		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("%s: invalid url_template: %w", ctx, err)
		}
		if err := checkBody(ctx, g.Method, g.Form, g.Body); err != nil {
			return err
		}
		if err := checkProxy(ctx, g.Options.Proxy); err != nil {
			return err
		}
	}

	if len(c.Requests) == 0 && len(c.Grids) == 0 {
		return errors.New("at least one request or grid must be defined")
	}
	return nil
}

func checkBody(ctx, method string, form map[string]string, body *string) error {
	if (len(form) > 0 || body != nil) && method != "POST" {
		return fmt.Errorf("%s: form and body are only allowed with method POST", ctx)
	}
	return nil
}

func checkProxy(ctx, proxy string) error {
	if proxy == "" {
		return nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return fmt.Errorf("%s: invalid proxy: %w", ctx, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
		return nil
	default:
		return fmt.Errorf("%s: proxy scheme must be http, https or socks5, got %q", ctx, u.Scheme)
	}
}
