package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Validate(t *testing.T) {
	schema := Schema{
		"title":  {Type: "string", Required: true, MinLength: 1, MaxLength: 5},
		"status": {Type: "string", Enum: []string{"all", "completed"}},
		"limit":  {Type: "integer", Minimum: Float(1), Maximum: Float(10)},
		"done":   {Type: "boolean"},
	}

	tests := []struct {
		name      string
		args      Args
		wantField string
	}{
		{"valid minimal", Args{"title": "milk"}, ""},
		{"extra keys ignored", Args{"title": "milk", "colour": "blue"}, ""},
		{"missing required", Args{}, "title"},
		{"null counts as missing", Args{"title": nil}, "title"},
		{"wrong type", Args{"title": 5.0}, "title"},
		{"too long counts runes", Args{"title": "ééééé"}, ""},
		{"too long", Args{"title": "abcdef"}, "title"},
		{"empty string", Args{"title": ""}, "title"},
		{"enum miss", Args{"title": "a", "status": "pending"}, "status"},
		{"not an integer", Args{"title": "a", "limit": 2.5}, "limit"},
		{"below minimum", Args{"title": "a", "limit": 0.0}, "limit"},
		{"above maximum", Args{"title": "a", "limit": 11.0}, "limit"},
		{"boolean type", Args{"title": "a", "done": "yes"}, "done"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.args)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var invalid *InvalidArgumentsError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.wantField, invalid.Field)
		})
	}
}

func TestSchema_JSONSchema(t *testing.T) {
	schema := Schema{
		"title":       {Type: "string", Required: true, MaxLength: 200},
		"description": {Type: "string"},
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal(schema.JSONSchema(), &doc))

	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []any{"title"}, doc["required"])
	props := doc["properties"].(map[string]any)
	assert.Contains(t, props, "description")
	assert.Equal(t, 200.0, props["title"].(map[string]any)["maxLength"])

	assert.Equal(t, string(schema.JSONSchema()), string(schema.JSONSchema()))
}

func TestSchema_EmptyRendersRequiredArray(t *testing.T) {
	assert.True(t, strings.Contains(string(Schema{}.JSONSchema()), `"required":[]`))
}

func TestArgs_Accessors(t *testing.T) {
	args := Args{"s": "x", "n": 3.0, "b": false}

	assert.Equal(t, "x", args.String("s"))
	assert.Equal(t, "", args.String("missing"))
	assert.Equal(t, 3, args.Int("n", 7))
	assert.Equal(t, 7, args.Int("missing", 7))
	assert.Nil(t, args.OptString("missing"))
	require.NotNil(t, args.OptBool("b"))
	assert.False(t, *args.OptBool("b"))
}
