package logging

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// RedactedValue is the placeholder written in place of sensitive values.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"component": {},
	"method":    {},
	"operation": {},
	"cid":       {},
	"username":  {},
}

// IsAllowlisted reports whether key may be logged without redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns the redacted placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField redacts value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

var dsnPasswordPattern = regexp.MustCompile(`(?i)(password=)([^\s]+)`)

// MaskDSN hides the password of a database connection string in either URL
// or key=value form.
func MaskDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return trimmed
	}
	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return RedactedValue
		}
		if parsed.User != nil {
			if _, ok := parsed.User.Password(); ok {
				parsed.User = url.UserPassword(parsed.User.Username(), RedactedValue)
			}
		}
		return parsed.String()
	}
	return dsnPasswordPattern.ReplaceAllString(trimmed, "${1}"+RedactedValue)
}
