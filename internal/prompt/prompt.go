// Package prompt builds the condition and extraction prompts sent to the
// inference backends. Templates are grouped by model family and loaded from
// an embedded YAML file, optionally overlaid by an operator-supplied one.
package prompt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/biodata-screener/pkg/textx"
)

// DefaultFamily is used when no registered family prefixes the model id.
const DefaultFamily = "default"

// MinConditionChars is the smallest document prefix a condition prompt carries.
const MinConditionChars = 3000

const (
	placeholderCondition = "{{CONDITION}}"
	placeholderDocument  = "{{DOCUMENT}}"
	placeholderKeys      = "{{KEYS}}"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Family is the template pair for one model family.
type Family struct {
	Condition  string `yaml:"condition"`
	Extraction string `yaml:"extraction"`
}

type templateFile struct {
	Families map[string]Family `yaml:"families"`
}

// Registry resolves a model id to its family templates.
type Registry struct {
	families          map[string]Family
	conditionMaxChars int
}

// Option customises a Registry.
type Option func(*Registry)

// WithConditionMaxChars sets the document prefix length for condition
// prompts; values below MinConditionChars are raised to it.
func WithConditionMaxChars(n int) Option {
	return func(r *Registry) {
		if n < MinConditionChars {
			n = MinConditionChars
		}
		r.conditionMaxChars = n
	}
}

// NewRegistry loads the embedded templates, then overlays overridePath when
// it is non-empty. Families in the override replace or add to the embedded
// ones; an empty template inherits from the default family.
func NewRegistry(overridePath string, opts ...Option) (*Registry, error) {
	r := &Registry{families: map[string]Family{}, conditionMaxChars: MinConditionChars}
	if err := r.merge(defaultTemplates); err != nil {
		return nil, fmt.Errorf("op=prompt.NewRegistry: embedded templates: %w", err)
	}
	if overridePath != "" {
		// #nosec G304 -- operator-supplied configuration file
		b, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("op=prompt.NewRegistry: %w", err)
		}
		if err := r.merge(b); err != nil {
			return nil, fmt.Errorf("op=prompt.NewRegistry: %s: %w", overridePath, err)
		}
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("op=prompt.NewRegistry: %w", err)
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// MustDefault returns the embedded registry and panics if it is broken.
func MustDefault() *Registry {
	r, err := NewRegistry("")
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) merge(b []byte) error {
	var f templateFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	for name, fam := range f.Families {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return fmt.Errorf("empty family name")
		}
		prev := r.families[name]
		if fam.Condition == "" {
			fam.Condition = prev.Condition
		}
		if fam.Extraction == "" {
			fam.Extraction = prev.Extraction
		}
		r.families[name] = fam
	}
	return nil
}

func (r *Registry) validate() error {
	def, ok := r.families[DefaultFamily]
	if !ok {
		return fmt.Errorf("family %q is required", DefaultFamily)
	}
	if def.Condition == "" || def.Extraction == "" {
		return fmt.Errorf("family %q must define both templates", DefaultFamily)
	}
	for name, fam := range r.families {
		if fam.Condition != "" {
			if err := requirePlaceholders(fam.Condition, placeholderCondition, placeholderDocument); err != nil {
				return fmt.Errorf("family %q condition: %w", name, err)
			}
		}
		if fam.Extraction != "" {
			if err := requirePlaceholders(fam.Extraction, placeholderKeys, placeholderDocument); err != nil {
				return fmt.Errorf("family %q extraction: %w", name, err)
			}
		}
	}
	return nil
}

func requirePlaceholders(tmpl string, names ...string) error {
	for _, n := range names {
		if !strings.Contains(tmpl, n) {
			return fmt.Errorf("missing placeholder %s", n)
		}
	}
	return nil
}

// Families lists registered family names, sorted.
func (r *Registry) Families() []string {
	out := make([]string, 0, len(r.families))
	for name := range r.families {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Family resolves a model id such as "library/mistral:7b" to a registered
// family: lower-case, strip the tag and the path, longest prefix wins.
func (r *Registry) Family(model string) string {
	id := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if i := strings.Index(id, ":"); i >= 0 {
		id = id[:i]
	}
	best := ""
	for name := range r.families {
		if name == DefaultFamily {
			continue
		}
		if strings.HasPrefix(id, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return DefaultFamily
	}
	return best
}

func (r *Registry) templates(model string) Family {
	fam := r.families[r.Family(model)]
	def := r.families[DefaultFamily]
	if fam.Condition == "" {
		fam.Condition = def.Condition
	}
	if fam.Extraction == "" {
		fam.Extraction = def.Extraction
	}
	return fam
}

// BuildCondition embeds the leading part of text and the condition, asking
// for reasoning that ends in "FINAL ANSWER: YES" or "FINAL ANSWER: NO".
func (r *Registry) BuildCondition(model, text, condition string) string {
	doc := textx.Truncate(text, r.conditionMaxChars)
	return strings.NewReplacer(
		placeholderCondition, strings.TrimSpace(condition),
		placeholderDocument, doc,
	).Replace(r.templates(model).Condition)
}

// BuildExtraction embeds the full text and the sorted key list, asking for
// a single JSON object with exactly those keys.
func (r *Registry) BuildExtraction(model, text string, keys []string) string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	kb, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		// a []string always marshals
		kb = []byte("[]")
	}
	return strings.NewReplacer(
		placeholderKeys, string(kb),
		placeholderDocument, text,
	).Replace(r.templates(model).Extraction)
}
