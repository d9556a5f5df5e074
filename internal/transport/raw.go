package transport

import (
	"strconv"
	"time"
)

// Raw override values arrive from Go callers, YAML and JSON, so numbers may
// be any of the integer or float kinds and durations may be strings.

// RawInt reads an integer override. Floats are truncated.
func RawInt(raw map[string]any, key string) (int, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case uint64:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// RawBool reads a boolean override. Numbers are true when non-zero.
func RawBool(raw map[string]any, key string) (bool, bool) {
	v, ok := raw[key]
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	default:
		n, ok := RawInt(raw, key)
		return n != 0, ok
	}
}

// RawDuration accepts time.Duration, duration strings ("5s") and plain
// numbers, which are read as seconds.
func RawDuration(raw map[string]any, key string) (time.Duration, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			secs, err := strconv.ParseFloat(d, 64)
			if err != nil {
				return 0, false
			}
			return time.Duration(secs * float64(time.Second)), true
		}
		return parsed, true
	case float64:
		return time.Duration(d * float64(time.Second)), true
	default:
		n, ok := RawInt(raw, key)
		return time.Duration(n) * time.Second, ok
	}
}

// RawString reads a string override.
func RawString(raw map[string]any, key string) (string, bool) {
	s, ok := raw[key].(string)
	return s, ok
}
