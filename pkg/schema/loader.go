// Package schema loads the ordered field-collection schema that drives
// the turn engine.
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"

	"github.com/formloop/formloop/pkg/models"
)

// metaSchema constrains schema files before decoding: an ordered array
// of field definitions, recursively nested through subFields.
const metaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {"$ref": "#/definitions/field"},
  "definitions": {
    "field": {
      "type": "object",
      "required": ["field", "format"],
      "properties": {
        "field": {"type": "string", "minLength": 1},
        "format": {"enum": ["string", "number", "boolean", "object", "array"]},
        "isRequired": {"type": "boolean"},
        "subFields": {
          "type": "array",
          "items": {"$ref": "#/definitions/field"}
        }
      },
      "additionalProperties": false
    }
  }
}`

// Load reads and validates the collection schema at path.
func Load(path string) ([]*models.FieldSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}

	return Parse(data)
}

// Parse validates raw schema JSON against the meta-schema and decodes it.
func Parse(data []byte) ([]*models.FieldSpec, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(metaSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate schema: %w", err)
	}

	if !result.Valid() {
		return nil, fmt.Errorf("invalid collection schema: %s", result.Errors()[0])
	}

	var fields []*models.FieldSpec
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("collection schema is empty")
	}

	return fields, nil
}

// Default returns the built-in account-opening schema used when no
// schema file is configured.
func Default() []*models.FieldSpec {
	return []*models.FieldSpec{
		{Field: "name", Format: models.FormatString, IsRequired: true},
		{Field: "age", Format: models.FormatNumber, IsRequired: true},
		{Field: "address", Format: models.FormatObject, IsRequired: true, SubFields: []*models.FieldSpec{
			{Field: "street", Format: models.FormatString, IsRequired: true},
			{Field: "zipcode", Format: models.FormatString, IsRequired: true},
		}},
	}
}
