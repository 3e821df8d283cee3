// Package normalizers provides field normalization used when comparing values
// across the spreadsheet and the operational store.
package normalizers

import (
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value.
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("trim", Trim)
	Register("uppercase", Uppercase)
	Register("status", Status)
	Register("digits_only", DigitsOnly)
	Register("strip_quotes", StripQuotes)
	Register("remove_whitespace", RemoveWhitespace)
}

// Register adds a normalizer to the registry.
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Apply applies a named normalizer to a value. Unknown names pass the value
// through unchanged.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// Trim removes leading and trailing whitespace.
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// Uppercase converts a string to uppercase.
func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// StripQuotes removes a single pair of wrapping double quotes.
func StripQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// DigitsOnly keeps only digit characters. Used before integer parsing of
// cells that operators pad with spaces or thousand separators.
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RemoveWhitespace removes all whitespace characters.
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Status strips the decorative prefix operators put on status cells
// (numbering, dots, emoji markers) and upper-cases the rest, so that
// "✅ 6. Completed" and "COMPLETED" compare equal. Only the leading
// decoration is removed; interior punctuation is preserved.
func Status(s string) string {
	trimmed := strings.TrimLeftFunc(s, func(r rune) bool {
		if unicode.IsDigit(r) || unicode.IsSpace(r) || r == '.' {
			return true
		}
		// Emoji and pictographic markers live outside the Latin-1 range;
		// letters of real status words never do in this vocabulary.
		return r > unicode.MaxLatin1 && !unicode.IsLetter(r)
	})
	return strings.ToUpper(strings.TrimSpace(trimmed))
}

// StatusEqual reports whether two status strings are semantically identical
// once decoration and case are ignored. This comparison decides "has this
// field changed" so that decorative differences never trigger writes.
func StatusEqual(a, b string) bool {
	return Status(a) == Status(b)
}
