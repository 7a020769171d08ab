package utils

import (
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// MaxLogStringLength defines the maximum length for user-provided strings in logs
const MaxLogStringLength = 200

var unprintable = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{S}\p{Z}]`)

// SanitizeLogString sanitizes a user-controlled string for safe logging.
// Control characters become spaces, long input is truncated and anything
// that is not a letter, number, punctuation, symbol or separator is dropped.
func SanitizeLogString(input string) string {
	if input == "" {
		return ""
	}

	if len(input) > MaxLogStringLength {
		input = input[:MaxLogStringLength] + "... (truncated)"
	}

	// Pre-process CRLF to avoid double spaces
	input = strings.ReplaceAll(input, "\r\n", "\n")

	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, input)

	return unprintable.ReplaceAllString(sanitized, "")
}

// SafeString is a zap field carrying a sanitized user-controlled value
func SafeString(key, value string) zap.Field {
	return zap.String(key, SanitizeLogString(value))
}
