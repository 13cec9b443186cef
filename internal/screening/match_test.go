package screening

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name      string
		extracted domain.ExtractionResult
		criteria  domain.Criteria
		want      bool
		failedKey string
	}{
		{name: "token overlap", extracted: domain.ExtractionResult{"department": "mechanical engg"}, criteria: domain.Criteria{"department": "mechanical"}, want: true},
		{name: "criterion contains extracted", extracted: domain.ExtractionResult{"category": "sc"}, criteria: domain.Criteria{"category": "sc/st"}, want: true},
		{name: "criterion token in extracted", extracted: domain.ExtractionResult{"designation": "sr. engineer"}, criteria: domain.Criteria{"designation": "senior engineer"}, want: true},
		{name: "mismatch", extracted: domain.ExtractionResult{"department": "electrical"}, criteria: domain.Criteria{"department": "mechanical"}, want: false, failedKey: "department"},
		{name: "missing key fails", extracted: domain.ExtractionResult{"name": "suresh"}, criteria: domain.Criteria{"department": "mechanical", "name": "suresh"}, want: false, failedKey: "department"},
		{name: "date separators", extracted: domain.ExtractionResult{"dateofbirth": "12/05/1980"}, criteria: domain.Criteria{"dateofbirth": "12.05.1980"}, want: true},
		{name: "date backslash and dash", extracted: domain.ExtractionResult{"dateofbirth": `12\05\1980`}, criteria: domain.Criteria{"dateofbirth": "12-05-1980"}, want: true},
		{name: "date separators only for dateofbirth", extracted: domain.ExtractionResult{"joining": "01/02/2001"}, criteria: domain.Criteria{"joining": "01.02.2001"}, want: false, failedKey: "joining"},
		{name: "all keys required", extracted: domain.ExtractionResult{"a": "x", "b": "y"}, criteria: domain.Criteria{"a": "x", "b": "z"}, want: false, failedKey: "b"},
		{name: "first failing key in sorted order", extracted: domain.ExtractionResult{}, criteria: domain.Criteria{"zeta": "1", "alpha": "2"}, want: false, failedKey: "alpha"},
		{name: "empty criteria", extracted: domain.ExtractionResult{"a": "b"}, criteria: domain.Criteria{}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := MatchDetail(tt.extracted, tt.criteria)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.failedKey, key)
			assert.Equal(t, tt.want, Matches(tt.extracted, tt.criteria))
		})
	}
}

func TestMatches_CaseInsensitive(t *testing.T) {
	pairs := []struct {
		extracted domain.ExtractionResult
		criteria  domain.Criteria
	}{
		{domain.ExtractionResult{"Department": "Mechanical Engg"}, domain.Criteria{"DEPARTMENT": "MECHANICAL"}},
		{domain.ExtractionResult{"Name": "Mr SURESH Kumar"}, domain.Criteria{"name": "suresh"}},
		{domain.ExtractionResult{"Dept": "Electrical"}, domain.Criteria{"dept": "Civil"}},
		{domain.ExtractionResult{"DateOfBirth": "12/05/1980"}, domain.Criteria{"dateofbirth": "12.05.1980"}},
	}
	for _, p := range pairs {
		lowE := domain.ExtractionResult{}
		for k, v := range p.extracted {
			lowE[strings.ToLower(k)] = strings.ToLower(v)
		}
		lowC := domain.Criteria{}
		for k, v := range p.criteria {
			lowC[strings.ToLower(k)] = strings.ToLower(v)
		}
		assert.Equal(t, Matches(lowE, lowC), Matches(p.extracted, p.criteria))
	}
	assert.True(t, Matches(pairs[0].extracted, pairs[0].criteria))
	assert.False(t, Matches(pairs[2].extracted, pairs[2].criteria))
}

func TestMatches_MissingKeyAlwaysFails(t *testing.T) {
	criteria := domain.Criteria{"department": "mechanical", "category": "sc"}
	extracted := domain.ExtractionResult{"department": "mechanical", "name": "mechanical sc"}
	assert.False(t, Matches(extracted, criteria))
}
