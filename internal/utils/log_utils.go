// Package utils holds logging helpers shared across the service
package utils

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxLogStringLength defines the maximum length for user-provided strings in logs
const MaxLogStringLength = 200

var unprintable = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{S}\p{Z}]`)

// SanitizeLogString sanitizes a user-controlled string for safe logging.
// Inbound URL parameters and provider-reported names pass through here before being logged.
func SanitizeLogString(input string) string {
	if input == "" {
		return ""
	}

	if len(input) > MaxLogStringLength {
		input = input[:MaxLogStringLength] + "... (truncated)"
	}

	input = strings.ReplaceAll(input, "\r\n", "\n")

	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, input)

	return unprintable.ReplaceAllString(sanitized, "")
}

// MaskIdentifier keeps the first two characters of a participant or token identifier
func MaskIdentifier(id string) string {
	id = SanitizeLogString(id)
	runes := []rune(id)
	switch {
	case len(runes) == 0:
		return ""
	case len(runes) <= 2:
		return strings.Repeat("*", len(runes))
	default:
		return string(runes[:2]) + strings.Repeat("*", min(len(runes)-2, 6))
	}
}
