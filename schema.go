package toolbus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// InputSchema is the declarative structural schema of a tool's arguments: an
// object with named, typed properties, a required subset, and optional enum
// and default constraints. It is used purely for validation, not for code
// generation, and it doubles as the tool's wire-visible documentation in
// tools/list.
type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema constrains one named property of an InputSchema.
type PropertySchema struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ObjectSchema builds an object InputSchema from properties and the required
// subset. It is a convenience for backends declaring their tools.
func ObjectSchema(props map[string]PropertySchema, required ...string) *InputSchema {
	return &InputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// compile turns the declarative schema value into its validator form. The
// registry compiles each schema once at build time; validation afterwards is
// lock-free because compiled schemas are read-only.
func (s *InputSchema) compile() (*gojsonschema.Schema, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// applyDefaults fills in declared defaults for omitted optional properties,
// returning the map that is handed to the executor. The caller's map is not
// mutated.
func (s *InputSchema) applyDefaults(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for name, prop := range s.Properties {
		if prop.Default == nil {
			continue
		}
		if _, ok := out[name]; !ok {
			out[name] = prop.Default
		}
	}
	return out
}

// validateArgs checks args against the compiled schema and reports every
// violation, naming the offending property in the message.
func validateArgs(schema *gojsonschema.Schema, args map[string]any) *Error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return Errorf(CodeInvalidArguments, "arguments are not a valid object: %s", err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		details = append(details, re.String())
	}
	return Errorf(CodeInvalidArguments, "invalid arguments: %s", strings.Join(details, "; "))
}
