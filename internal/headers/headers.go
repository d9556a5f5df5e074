// Package headers converts between structured header maps and the raw
// header lines exchanged with the transport.
package headers

import (
	"sort"
	"strings"
)

// Decode parses a raw header block into a map of lower-cased header names to
// their values in the order they appeared.
//
// The block is expected to start with a status line ("HTTP/1.1 200 OK"),
// which is discarded. When the transport followed redirects the block may
// hold several responses back to back; every status line is discarded and
// the headers of all responses accumulate. Lines without a colon yield a
// header with an empty value.
func Decode(raw string) map[string][]string {
	result := make(map[string][]string)

	lines := splitLines(raw)
	if len(lines) == 0 {
		return result
	}

	for i, line := range lines {
		if i == 0 || isStatusLine(line) {
			continue
		}

		name, value, _ := strings.Cut(line, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		result[name] = append(result[name], strings.TrimSpace(value))
	}

	return result
}

// Encode renders one "name: value" line per header. Names and values are
// trimmed; lines are sorted by name so the output is deterministic.
func Encode(h map[string]string) []string {
	if len(h) == 0 {
		return nil
	}

	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, strings.TrimSpace(k)+": "+strings.TrimSpace(h[k]))
	}
	return lines
}

// Has reports whether h contains name, ignoring case, with a non-empty
// value. A header present with an empty value counts as absent.
func Has(h map[string]string, name string) bool {
	for k, v := range h {
		if strings.EqualFold(k, name) && v != "" {
			return true
		}
	}
	return false
}

// splitLines splits on "\n" (tolerating "\r\n") and drops blank lines.
func splitLines(raw string) []string {
	parts := strings.Split(strings.TrimSpace(raw), "\n")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimRight(p, "\r")
		if strings.TrimSpace(p) == "" {
			continue
		}
		lines = append(lines, p)
	}
	return lines
}

func isStatusLine(line string) bool {
	return strings.HasPrefix(line, "HTTP/")
}
