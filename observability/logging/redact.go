package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// MaskEndpoint strips credentials from an RPC endpoint or database DSN so it
// can be logged at startup. Values that do not parse as URLs are fully
// redacted rather than leaked.
func MaskEndpoint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return RedactedValue
	}
	if parsed.User != nil {
		parsed.User = url.User(RedactedValue)
	}
	parsed.RawQuery = ""
	return parsed.String()
}

// MaskField returns a slog.Attr carrying the masked form of an endpoint-like
// configuration value.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskEndpoint(value))
}
