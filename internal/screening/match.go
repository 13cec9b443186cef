package screening

import (
	"sort"
	"strings"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// dateKey is the one field whose separators are normalised before comparing.
const dateKey = "dateofbirth"

var dateSeparators = strings.NewReplacer("-", ".", "/", ".", `\`, ".")

// Matches reports whether every criterion is satisfied by extracted.
func Matches(extracted domain.ExtractionResult, criteria domain.Criteria) bool {
	_, ok := MatchDetail(extracted, criteria)
	return ok
}

// MatchDetail is Matches plus the first failing key in sorted order.
// Both sides are lower-cased here, so callers may pass either case.
//
// A key passes when it is present in extracted and either value contains
// the other, or any whitespace token of one side occurs in the other.
func MatchDetail(extracted domain.ExtractionResult, criteria domain.Criteria) (failedKey string, ok bool) {
	got := make(map[string]string, len(extracted))
	for k, v := range extracted {
		got[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	want := make(map[string]string, len(criteria))
	keys := make([]string, 0, len(criteria))
	for k, v := range criteria {
		lk := strings.ToLower(strings.TrimSpace(k))
		if _, dup := want[lk]; !dup {
			keys = append(keys, lk)
		}
		want[lk] = strings.ToLower(strings.TrimSpace(v))
	}
	sort.Strings(keys)

	for _, k := range keys {
		have, present := got[k]
		if !present {
			return k, false
		}
		expect := want[k]
		if k == dateKey {
			have = dateSeparators.Replace(have)
			expect = dateSeparators.Replace(expect)
		}
		if !valueMatches(have, expect) {
			return k, false
		}
	}
	return "", true
}

func valueMatches(have, expect string) bool {
	if strings.Contains(have, expect) || strings.Contains(expect, have) {
		return true
	}
	for _, tok := range strings.Fields(have) {
		if strings.Contains(expect, tok) {
			return true
		}
	}
	for _, tok := range strings.Fields(expect) {
		if strings.Contains(have, tok) {
			return true
		}
	}
	return false
}
