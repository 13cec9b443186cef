package screening

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// criteriaSchema accepts a flat object of scalar values.
const criteriaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {"type": ["string", "number", "boolean"]}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("criteria.json", strings.NewReader(criteriaSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("criteria.json")
	})
	return compiledSchema, schemaErr
}

// ParseCriteria decodes the "description" form field into Criteria.
// An empty object is valid and disables the structured check.
func ParseCriteria(raw string) (domain.Criteria, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: missing criteria description", domain.ErrInvalidArgument)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: invalid criteria format: %v", domain.ErrInvalidArgument, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: invalid criteria format: trailing data after JSON object", domain.ErrInvalidArgument)
	}
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("op=screening.ParseCriteria: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: invalid criteria format: %v", domain.ErrInvalidArgument, err)
	}

	obj, _ := v.(map[string]any)
	flat := make(map[string]string, len(obj))
	for k, val := range obj {
		switch t := val.(type) {
		case string:
			flat[k] = t
		case json.Number:
			flat[k] = t.String()
		case bool:
			flat[k] = strconv.FormatBool(t)
		}
	}
	c, err := domain.NewCriteria(flat)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid criteria format: %v", domain.ErrInvalidArgument, err)
	}
	return c, nil
}
