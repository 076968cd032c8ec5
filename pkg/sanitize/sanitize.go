package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// StripControlCharacters removes control characters, keeping newlines and tabs
func StripControlCharacters(input string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

// MessageText normalizes user-entered chat text: invalid UTF-8 is dropped,
// control characters are stripped and surrounding whitespace is trimmed.
// Markup is left alone; clients render text, not HTML.
func MessageText(input string) string {
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return strings.TrimSpace(StripControlCharacters(input))
}

// ValidateStringLength reports whether input has between minLen and maxLen runes
func ValidateStringLength(input string, minLen, maxLen int) bool {
	length := utf8.RuneCountInString(input)
	return length >= minLen && length <= maxLen
}
