// Package textx provides small text utilities used across the project.
package textx

import (
	"regexp"
	"strings"
)

// PageMarker separates pages in extractor output. Normalize removes it.
const PageMarker = "<<<PAGE_BREAK>>>"

var pageMarkerRe = regexp.MustCompile(`\s*` + regexp.QuoteMeta(PageMarker) + `\s*`)

// SanitizeText drops control characters other than tab, newline and
// carriage return, then trims surrounding whitespace. Every extraction
// strategy passes its output through it.
func SanitizeText(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\r', r == '\t':
			return r
		case r < 32, r == 127:
			return -1
		}
		return r
	}, s))
}

// JoinPages concatenates page texts with PageMarker on its own line.
func JoinPages(pages []string) string {
	return strings.Join(pages, "\n"+PageMarker+"\n")
}

// StripPageMarkers replaces every page marker with a newline.
func StripPageMarkers(s string) string {
	return pageMarkerRe.ReplaceAllString(s, "\n")
}

// ContentLength returns the length of s with page markers and surrounding
// whitespace removed. Extractors compare it against their thresholds.
func ContentLength(s string) int {
	return len([]rune(strings.TrimSpace(StripPageMarkers(s))))
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
