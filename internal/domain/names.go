package domain

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// CleanName trims the name, applies NFC and collapses inner whitespace.
func CleanName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// LowerName is the lowercase form handed to the similarity resolver.
// Casers are stateful, so each call builds its own.
func LowerName(name string) string {
	return cases.Lower(language.Und).String(CleanName(name))
}

// NameKey is the normalized form used for global name uniqueness.
func NameKey(name string) string {
	return cases.Fold().String(CleanName(name))
}

// DisplayName lowercases the name and capitalizes its first letter,
// so "MUDDY water" becomes "Muddy water".
func DisplayName(name string) string {
	s := LowerName(name)
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// IconFilename derives the storage filename for an element icon. Only
// [a-z0-9-] survive; every other run of characters becomes a single "_".
func IconFilename(name string, unixMillis int64) string {
	var b strings.Builder
	for _, r := range LowerName(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case !strings.HasSuffix(b.String(), "_"):
			b.WriteByte('_')
		}
	}
	base := strings.Trim(b.String(), "_")
	if base == "" {
		base = "icon"
	}
	return base + "_" + strconv.FormatInt(unixMillis, 10)
}
