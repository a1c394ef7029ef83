package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"docdigitizer/internal/apperr"
	"docdigitizer/internal/models"
)

var stringFields = []string{
	"certificate", "name", "sex", "date_of_birth", "place_of_birth", "address",
	"father_name", "mother_name", "registration_number", "date_of_registration",
	"date_of_issue", "date_of_death",
}

const sealField = "office_seal_present"

func fieldsSchemaDoc() map[string]any {
	props := make(map[string]any, len(stringFields)+1)
	for _, f := range stringFields {
		props[f] = map[string]any{"type": []string{"string", "null"}}
	}
	props[sealField] = map[string]any{"type": []string{"boolean", "null"}}

	// at least one field must carry a value read from the page
	filled := make([]any, 0, len(stringFields)+1)
	for _, f := range stringFields {
		filled = append(filled, map[string]any{
			"required":   []string{f},
			"properties": map[string]any{f: map[string]any{"type": "string", "minLength": 1}},
		})
	}
	filled = append(filled, map[string]any{
		"required":   []string{sealField},
		"properties": map[string]any{sealField: map[string]any{"const": true}},
	})
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
		"anyOf":                filled,
	}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func fieldsSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(fieldsSchemaDoc())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("fields.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("fields.json")
	})
	return compiledSchema, schemaErr
}

// ParseFields validates raw model output and decodes it. Output that is not a
// single JSON object of known fields with at least one value is an engine error.
func ParseFields(raw string) (models.StructuredFields, error) {
	text := stripFences(raw)
	if text == "" {
		return models.StructuredFields{}, apperr.Engine("empty model response", nil)
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return models.StructuredFields{}, apperr.Engine("model response is not JSON", err)
	}
	schema, err := fieldsSchema()
	if err != nil {
		return models.StructuredFields{}, apperr.Engine("compile field schema", err)
	}
	if err := schema.Validate(v); err != nil {
		return models.StructuredFields{}, apperr.Engine("model response does not match field schema", err)
	}
	var fields models.StructuredFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return models.StructuredFields{}, apperr.Engine("decode fields", err)
	}
	return fields, nil
}

// stripFences removes a surrounding markdown code fence some models add.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var refusalPhrases = []string{
	"i cannot",
	"i can't",
	"i am unable",
	"i'm unable",
	"as an ai",
}

// looksLikeRefusal catches plain-text refusals before JSON parsing.
func looksLikeRefusal(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(lower, "{") {
		return false
	}
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
