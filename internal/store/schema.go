package store

import (
	_ "embed"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schema/session.schema.json
var sessionSchemaJSON []byte

type schemaValidator struct {
	schema *jsonschema.Schema
}

func newSessionValidator() (*schemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(sessionSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile session schema: %w", err)
	}
	return &schemaValidator{schema: schema}, nil
}

func (v *schemaValidator) validate(data []byte) error {
	result := v.schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}
