package update

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaBase = "https://fieldsync.invalid/schema/"

// Attribute objects accept any key so that unknown keys reach the Applier, which reports them.
const batchSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"oneOf": [
		{"const": "kwac"},
		{
			"type": "array",
			"items": {
				"type": "array",
				"minItems": 2,
				"maxItems": 2,
				"prefixItems": [
					{"type": "string"},
					{"type": ["string", "number", "boolean", "null", "object"]}
				]
			}
		}
	]
}`

const responseSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"oneOf": [
		{"$ref": "batch.json"},
		{
			"type": "object",
			"required": ["OK"],
			"properties": {
				"OK": {"type": "boolean"},
				"value": {"type": ["string", "number", "boolean", "null"]},
				"updates": {"$ref": "batch.json"}
			}
		}
	]
}`

var (
	schemasOnce sync.Once
	schemasErr  error
	batchSch    *jsonschema.Schema
	responseSch *jsonschema.Schema
)

func compileSchemas() error {
	schemasOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for name, doc := range map[string]string{
			"batch.json":    batchSchema,
			"response.json": responseSchema,
		} {
			parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
			if err != nil {
				schemasErr = fmt.Errorf("failed to parse %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(schemaBase+name, parsed); err != nil {
				schemasErr = fmt.Errorf("failed to add %s: %w", name, err)
				return
			}
		}
		if batchSch, schemasErr = compiler.Compile(schemaBase + "batch.json"); schemasErr != nil {
			return
		}
		responseSch, schemasErr = compiler.Compile(schemaBase + "response.json")
	})
	return schemasErr
}

// ValidateBatch checks that data is a batch or the no-op sentinel.
func ValidateBatch(data []byte) error {
	return validate(data, func() *jsonschema.Schema { return batchSch })
}

// ValidateResponse checks that data is an action response: a batch, the no-op sentinel, or an
// OK envelope.
func ValidateResponse(data []byte) error {
	return validate(data, func() *jsonschema.Schema { return responseSch })
}

func validate(data []byte, schema func() *jsonschema.Schema) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}
	if err := schema().Validate(inst); err != nil {
		return fmt.Errorf("payload does not match protocol: %w", err)
	}
	return nil
}
