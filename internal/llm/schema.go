package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildRecordJSONSchema returns the JSON-Schema (draft 2020-12 subset) a
// standardized specimen record is expected to match: a flat object whose
// keys look like Darwin Core terms and whose values are scalars. Used
// locally as a review gate, never as a hard failure.
func BuildRecordJSONSchema() map[string]any {
	return map[string]any{
		"type":          "object",
		"minProperties": 1,
		"propertyNames": map[string]any{
			"pattern": `^(dwc:|dcterms:)?[A-Za-z][A-Za-z0-9_]*$`,
		},
		"additionalProperties": map[string]any{
			"type": []string{"string", "number", "boolean", "null"},
		},
	}
}

var (
	recordSchemaOnce sync.Once
	recordSchema     *jsonschema.Schema
	recordSchemaErr  error
)

func compiledRecordSchema() (*jsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		b, err := json.Marshal(BuildRecordJSONSchema())
		if err != nil {
			recordSchemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("record.json", bytes.NewReader(b)); err != nil {
			recordSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		recordSchema, recordSchemaErr = compiler.Compile("record.json")
	})
	return recordSchema, recordSchemaErr
}

// ValidateRecord checks a parsed record against the Darwin Core record
// schema and returns warning strings. An empty slice means the record is
// schema-shaped; warnings flag the item for review but never fail it.
func ValidateRecord(data map[string]any) []string {
	if data == nil {
		return nil
	}
	schema, err := compiledRecordSchema()
	if err != nil {
		return []string{fmt.Sprintf("schema unavailable: %v", err)}
	}
	// Round-trip through generic JSON types so nested values validate the
	// way the validator expects.
	var v any = map[string]any(data)
	if err := schema.Validate(v); err != nil {
		return []string{err.Error()}
	}
	return nil
}
