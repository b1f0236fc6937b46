// Package env reads process settings needed before config.Load runs, such as
// the log format of the bootstrap logger.
package env

import (
	"os"
	"strings"
)

// First returns the first non-empty value among keys, or fallback.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}

// Choice is First restricted to allowed values; anything else yields fallback.
func Choice(fallback string, allowed []string, keys ...string) string {
	val := strings.ToLower(First(fallback, keys...))
	for _, a := range allowed {
		if val == a {
			return val
		}
	}
	return fallback
}
