// Package metadata validates certificate metadata against a JSON schema and
// masks recipient details for public listings.
package metadata

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/certificate.json
var defaultSchema []byte

// ErrSchemaViolation is returned when metadata does not satisfy the schema.
var ErrSchemaViolation = errors.New("metadata failed schema validation")

// Validator checks raw metadata JSON against a compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the schema at path, or the built-in certificate
// schema when path is empty.
func NewValidator(path string) (*Validator, error) {
	src := defaultSchema
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read metadata schema: %w", err)
		}
		src = b
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(src))
	if err != nil {
		return nil, fmt.Errorf("compile metadata schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks raw against the schema. Violations are joined into one
// ErrSchemaViolation so callers can return them to the client verbatim.
func (v *Validator) Validate(raw []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}

// Mask hides all but the first letter of each word in name.
// "Jane Doe" becomes "J*** D**"; an empty name becomes "Anonymous".
func Mask(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return "Anonymous"
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(r) + strings.Repeat("*", utf8.RuneCountInString(w[size:]))
	}
	return strings.Join(words, " ")
}
