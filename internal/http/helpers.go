package http

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// stripControlChars removes control characters except tab, newline and
// carriage return. Whitespace is preserved.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// displayName upper-cases the first letter of every word and leaves the rest
// as typed. A Caser is stateful, so one is built per call.
func displayName(name string) string {
	return cases.Title(language.Und, cases.NoLower).String(name)
}
