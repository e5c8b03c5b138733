// Package envutil reads typed values from environment variables. Unset or
// malformed values fall back to the supplied default; the Lookup variants
// report malformed values as errors.
package envutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func Bool(key string) bool {
	return ParseBool(os.Getenv(key))
}

func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// BoolDefault is Bool with a default for unset or blank variables.
func BoolDefault(key string, def bool) bool {
	value, ok := lookup(key)
	if !ok {
		return def
	}
	return ParseBool(value)
}

func String(key, def string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return def
}

func Int(key string, def int) (int, error) {
	value, ok := lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func Float(key string, def float64) (float64, error) {
	value, ok := lookup(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def, fmt.Errorf("%s: invalid number %q", key, value)
	}
	return f, nil
}

// Duration accepts Go duration syntax ("90s") or a bare number of seconds.
func Duration(key string, def time.Duration) (time.Duration, error) {
	value, ok := lookup(key)
	if !ok {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

// Floats parses a comma-separated list of numbers.
func Floats(key string, def []float64) ([]float64, error) {
	value, ok := lookup(key)
	if !ok {
		return def, nil
	}
	var out []float64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return def, fmt.Errorf("%s: invalid number %q", key, part)
		}
		out = append(out, f)
	}
	return out, nil
}

func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
