package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 64
)

// clean strips control characters and caps the length so attacker-supplied
// values cannot inject log lines or bloat entries.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}

// SanitizeRoute prepares a chi route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, maxRouteLen)
}

// SanitizeMethod prepares an HTTP method for logging.
func SanitizeMethod(method string) string {
	return clean(method, maxMethodLen)
}

// SanitizeUserID caps user identifiers before they reach log output.
func SanitizeUserID(uid string) string {
	return clean(uid, maxUserIDLen)
}
