// Package schema generates JSON schemas from Go types and validates
// documents against them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

// Reflect builds the JSON schema of v, using json field names.
func Reflect(v interface{}, title string) ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		ExpandedStruct:             true,
		DoNotReference:             true,
		Anonymous:                  true,
		// Only fields tagged jsonschema:"required" are required, so
		// documents may omit anything with a sensible default.
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(v)
	s.Title = title
	return json.MarshalIndent(s, "", "  ")
}

// Validator validates documents against one compiled schema.
type Validator struct {
	schema *santhosh.Schema
}

// NewValidator compiles schemaData under the resource name.
func NewValidator(name string, schemaData []byte) (*Validator, error) {
	compiler := santhosh.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schemaData)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: compiled}, nil
}

// NewReflectedValidator reflects v and compiles the result.
func NewReflectedValidator(v interface{}, title string) (*Validator, error) {
	data, err := Reflect(v, title)
	if err != nil {
		return nil, err
	}
	return NewValidator(strings.ToLower(strings.ReplaceAll(title, " ", "-"))+".json", data)
}

// ValidateJSON validates a raw JSON document.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.validate(doc)
}

// Validate validates any value that marshals to JSON.
func (v *Validator) Validate(value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for validation: %w", err)
	}
	return v.ValidateJSON(data)
}

func (v *Validator) validate(doc interface{}) error {
	if err := v.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*santhosh.ValidationError); ok {
			var messages []string
			collectErrors(validationErr, &messages)
			return fmt.Errorf("schema validation failed:\n%s", strings.Join(messages, "\n"))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// collectErrors flattens the validation error tree.
func collectErrors(err *santhosh.ValidationError, messages *[]string) {
	if err.InstanceLocation != "" {
		*messages = append(*messages, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}
