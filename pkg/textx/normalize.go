package textx

import (
	"regexp"
	"strings"
)

var (
	sectionHeaderRe    = regexp.MustCompile(`(?i)([^\n\w])[ \t]*\b((?:educational )?qualifications?[ \t]*:|experience[^:\n]{0,40}?:|training[ \t]*:|promotions?[ \t]*:|postings?(?: history)?[ \t]*:)`)
	spaceBeforeColonRe = regexp.MustCompile(`([A-Za-z\)\.])[ \t]+:`)
	spaceAfterColonRe  = regexp.MustCompile(`([A-Za-z\)\.]):[ \t]*([^\s/])`)
	blankRunRe         = regexp.MustCompile(`\n(?:[ \t]*\n){2,}`)
	horizontalSpaceRe  = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	pageNumberLineRe   = regexp.MustCompile(`^(?:[1-9]|1[0-9]|2[0-9])$`)
	deputyRe           = regexp.MustCompile(`(?i)\bDy\.[ \t]*`)
	assistantRe        = regexp.MustCompile(`(?i)\bAsst\.[ \t]*`)
)

// encodingFixes maps UTF-8 text that was decoded as Windows-1252 back to ASCII.
var encodingFixes = strings.NewReplacer(
	"â€œ", `"`, // left double quote
	"â€\u009d", `"`, // right double quote
	"â€™", "'", // right single quote
	"â€”", "-", // em dash
)

// Normalize turns raw extractor output into the canonical form used in prompts.
// It never fails; unrecognised input passes through with whitespace tidied.
func Normalize(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = StripPageMarkers(s)
	s = sectionHeaderRe.ReplaceAllString(s, "$1\n$2")
	s = spaceBeforeColonRe.ReplaceAllString(s, "$1:")
	s = spaceAfterColonRe.ReplaceAllString(s, "$1: $2")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	s = horizontalSpaceRe.ReplaceAllString(s, " ")
	s = dropPageNumberLines(s)
	s = encodingFixes.Replace(s)
	s = deputyRe.ReplaceAllString(s, "Deputy ")
	s = assistantRe.ReplaceAllString(s, "Assistant ")
	return tidy(s)
}

// dropPageNumberLines removes lines holding only a number in 1..29.
// Legitimate one or two digit values alone on a line are lost too.
func dropPageNumberLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		if pageNumberLineRe.MatchString(strings.TrimSpace(ln)) {
			continue
		}
		out = append(out, ln)
	}
	return strings.Join(out, "\n")
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSpace(horizontalSpaceRe.ReplaceAllString(ln, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
