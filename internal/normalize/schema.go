package normalize

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed canonical_product.schema.json
var canonicalSchema string

// ValidationError lists every schema violation of a record.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is one violation at a field path.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf(" %d. %s: %s;", i+1, err.Field, err.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// Messages renders the violations as "field: message" strings.
func (ve *ValidationError) Messages() []string {
	out := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		out = append(out, e.Field+": "+e.Message)
	}
	return out
}

// Validator checks records against the canonical product schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the embedded canonical schema.
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(canonicalSchema))
	if err != nil {
		return nil, fmt.Errorf("compile canonical schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns *ValidationError when record violates the schema.
func (v *Validator) Validate(record map[string]any) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(record))
	if err != nil {
		return fmt.Errorf("validate record: %w", err)
	}
	if result.Valid() {
		return nil
	}
	validationErr := &ValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return validationErr
}
