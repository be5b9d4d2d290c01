package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formloop/formloop/pkg/models"
)

const sampleSchema = `[
  {"field": "Name", "isRequired": true, "format": "string"},
  {"field": "Age", "isRequired": true, "format": "number"},
  {
    "field": "Address",
    "isRequired": true,
    "format": "object",
    "subFields": [
      {"field": "Street", "isRequired": true, "format": "string"},
      {"field": "Pincode", "isRequired": true, "format": "number"}
    ]
  }
]`

func TestParse(t *testing.T) {
	fields, err := Parse([]byte(sampleSchema))
	require.NoError(t, err)
	require.Len(t, fields, 3)

	assert.Equal(t, "Name", fields[0].Field)
	assert.Equal(t, models.FormatString, fields[0].Format)
	assert.True(t, fields[0].IsRequired)

	address := fields[2]
	assert.True(t, address.Composite())
	require.Len(t, address.SubFields, 2)
	assert.Equal(t, "Pincode", address.SubFields[1].Field)
}

func TestParseRejectsUnknownFormat(t *testing.T) {
	_, err := Parse([]byte(`[{"field": "Name", "format": "uuid"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid collection schema")
}

func TestParseRejectsMissingField(t *testing.T) {
	_, err := Parse([]byte(`[{"format": "string"}]`))
	require.Error(t, err)
}

func TestParseRejectsEmptySchema(t *testing.T) {
	_, err := Parse([]byte(`[]`))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleSchema), 0o644))

	fields, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, fields, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
