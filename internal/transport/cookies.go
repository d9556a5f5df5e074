package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"
)

// storedCookie is the on-disk form of one cookie.
type storedCookie struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// fileJar is an http.CookieJar backed by a JSON file.
//
// The in-memory jar does the RFC 6265 matching; fileJar additionally records
// every cookie set so the jar can be written back to disk. One fileJar is
// shared by all transfers naming the same path.
type fileJar struct {
	inner *cookiejar.Jar

	mu     sync.Mutex
	stored map[string]storedCookie // keyed by url|name|path
}

// jar returns the shared jar for the given read and write paths, loading the
// read file on first use. A missing read file starts an empty jar.
func (h *HTTP) jar(readPath, writePath string) (*fileJar, error) {
	key := writePath
	if key == "" {
		key = readPath
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if j, ok := h.jars[key]; ok {
		return j, nil
	}

	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	j := &fileJar{inner: inner, stored: make(map[string]storedCookie)}

	if readPath != "" {
		if err := j.load(readPath); err != nil {
			return nil, err
		}
	}

	h.jars[key] = j
	return j, nil
}

// SetCookies implements http.CookieJar.
func (j *fileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		sc := storedCookie{
			URL:      u.Scheme + "://" + u.Host,
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		key := sc.URL + "|" + sc.Name + "|" + sc.Path
		if c.MaxAge < 0 {
			delete(j.stored, key)
			continue
		}
		j.stored[key] = sc
	}
}

// Cookies implements http.CookieJar.
func (j *fileJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *fileJar) load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cookie file: %w", err)
	}

	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse cookie file %s: %w", path, err)
	}

	now := time.Now()
	for _, sc := range stored {
		if !sc.Expires.IsZero() && sc.Expires.Before(now) {
			continue
		}
		u, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		j.SetCookies(u, []*http.Cookie{{
			Name:     sc.Name,
			Value:    sc.Value,
			Path:     sc.Path,
			Domain:   sc.Domain,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HttpOnly,
		}})
	}
	return nil
}

// save writes the jar to path via a temp file and rename.
func (j *fileJar) save(path string) error {
	j.mu.Lock()
	stored := make([]storedCookie, 0, len(j.stored))
	for _, sc := range j.stored {
		stored = append(stored, sc)
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		j.mu.Unlock()
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	// hold the lock across the write so concurrent saves cannot interleave
	defer j.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace cookie file: %w", err)
	}
	return nil
}
