package httpserver

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// processForm holds the text fields of a batch submission.
type processForm struct {
	Description string `validate:"required,max=20000"`
	ExtraPrompt string `validate:"max=5000"`
	ModelName   string `validate:"omitempty,max=100,modelname"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate

	modelNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/-]*$`)
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New()
		_ = vld.RegisterValidation("modelname", func(fl validator.FieldLevel) bool {
			return modelNameRe.MatchString(fl.Field().String())
		})
	})
	return vld
}

// ValidateProcessForm checks length limits and the model id format. The
// criteria JSON itself is validated by the screening package.
func ValidateProcessForm(description, extraPrompt, modelName string) ValidationResult {
	err := getValidator().Struct(processForm{Description: description, ExtraPrompt: extraPrompt, ModelName: modelName})
	if err == nil {
		return ValidationResult{Valid: true}
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationResult{Errors: []ValidationError{{Field: "form", Code: "INVALID_FORMAT", Message: err.Error()}}}
	}
	out := ValidationResult{}
	for _, fe := range ve {
		field := formField(fe.Field())
		code := "INVALID_FORMAT"
		msg := field + " is invalid"
		switch fe.Tag() {
		case "required":
			code, msg = "REQUIRED", field+" is required"
		case "max":
			code, msg = "TOO_LONG", field+" is too long (max "+fe.Param()+" characters)"
		}
		out.Errors = append(out.Errors, ValidationError{Field: field, Code: code, Message: msg})
	}
	return out
}

func formField(structField string) string {
	switch structField {
	case "Description":
		return "description"
	case "ExtraPrompt":
		return "extra_prompt"
	case "ModelName":
		return "model_name"
	}
	return strings.ToLower(structField)
}

// ValidateBatchID validates a batch id, which is always a ULID.
func ValidateBatchID(batchID string) ValidationResult {
	if batchID == "" {
		return ValidationResult{Errors: []ValidationError{{Field: "batch_id", Code: "REQUIRED", Message: "Batch ID is required"}}}
	}
	if _, err := ulid.ParseStrict(batchID); err != nil {
		return ValidationResult{Errors: []ValidationError{{Field: "batch_id", Code: "INVALID_FORMAT", Message: "Batch ID must be a ULID"}}}
	}
	return ValidationResult{Valid: true}
}

// SanitizeString sanitizes a short string input such as a header value.
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	if len(input) > 1000 {
		input = input[:1000]
	}
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return input
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
