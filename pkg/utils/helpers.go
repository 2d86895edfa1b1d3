package utils

import (
	"strings"
	"time"
)

// ParseDuration safely parses a duration string like "5m", falling back to
// the given default on empty or malformed input.
func ParseDuration(d string, fallback time.Duration) time.Duration {
	if d == "" {
		return fallback
	}
	duration, err := time.ParseDuration(strings.TrimSpace(d))
	if err != nil {
		return fallback
	}
	return duration
}

// Truncate caps s at max bytes. Attempt log messages are bounded so a
// provider error body cannot bloat the fetch log.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
