// Package screening turns raw model completions into decisions: a yes/no
// answer for a condition prompt, a field map for an extraction prompt, and
// the match of extracted fields against the caller's criteria.
package screening

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

var (
	decisionMarkerRe = regexp.MustCompile(`(?i)\b(final\s+answer|decision|conclusion|answer)\s*:\s*[*_"'\s]*\b(yes|no)\b`)
	yesRe            = regexp.MustCompile(`(?i)\byes\b`)
	noRe             = regexp.MustCompile(`(?i)\bno\b`)
	fenceRe          = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	spaceRe          = regexp.MustCompile(`\s+`)
)

// markerRank orders decision markers; a lower rank takes precedence.
var markerRank = map[string]int{
	"final answer": 0,
	"decision":     1,
	"conclusion":   2,
	"answer":       3,
}

// fallbackLines is how many trailing lines are searched when the completion
// carries no explicit decision marker.
const fallbackLines = 3

// InterpretCondition reads a condition completion. Among explicit decision
// markers the strongest kind wins (FINAL ANSWER, then DECISION, CONCLUSION and
// ANSWER), and within that kind the last occurrence. Without a marker the
// last three lines, blank ones included, are read bottom-up for a line naming
// exactly one of YES or NO. No decision is false.
func InterpretCondition(text string) bool {
	if ms := decisionMarkerRe.FindAllStringSubmatch(text, -1); len(ms) > 0 {
		best, answer := len(markerRank), ""
		for _, m := range ms {
			kind := strings.ToLower(spaceRe.ReplaceAllString(m[1], " "))
			if r := markerRank[kind]; r <= best {
				best, answer = r, m[2]
			}
		}
		return strings.EqualFold(answer, "yes")
	}

	body := strings.TrimRightFunc(strings.ReplaceAll(text, "\r\n", "\n"), unicode.IsSpace)
	lines := strings.Split(body, "\n")
	for i := len(lines) - 1; i >= 0 && i >= len(lines)-fallbackLines; i-- {
		line := lines[i]
		hasYes, hasNo := yesRe.MatchString(line), noRe.MatchString(line)
		switch {
		case hasYes && !hasNo:
			return true
		case hasNo && !hasYes:
			return false
		}
	}
	return false
}

// InterpretExtraction parses the first top-level JSON object in an
// extraction completion. Null values are dropped; keys and values are
// lower-cased strings.
func InterpretExtraction(text string) (domain.ExtractionResult, error) {
	body := fenceRe.ReplaceAllString(text, "")
	obj, ok := firstObject(body)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in completion", domain.ErrParseFailed)
	}

	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailed, err)
	}

	out := make(domain.ExtractionResult, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		out[key] = strings.ToLower(strings.TrimSpace(stringify(v)))
	}
	return out, nil
}

// firstObject returns the first balanced {...} span, skipping braces that
// appear inside JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		if !strings.ContainsAny(t.String(), ".eE") {
			return t.String()
		}
		if f, err := t.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimSpace(buf.String())
	}
}
