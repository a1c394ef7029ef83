package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// identifierPattern bounds caller-supplied document and page ids.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const pageMetadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "pageId": {"type": "string"},
    "pageNumber": {"type": "integer", "minimum": 1},
    "timestamp": {"type": "string", "format": "date-time"},
    "source": {"type": "string", "maxLength": 128}
  }
}`

// PageMetadata is the optional per-page JSON sent next to each file.
type PageMetadata struct {
	PageID     string    `json:"pageId"`
	PageNumber int       `json:"pageNumber"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

var (
	metaSchemaOnce sync.Once
	metaSchema     *jsonschema.Schema
	metaSchemaErr  error
)

func compiledMetadataSchema() (*jsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource("page-metadata.json", strings.NewReader(pageMetadataSchema)); err != nil {
			metaSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		metaSchema, metaSchemaErr = compiler.Compile("page-metadata.json")
	})
	return metaSchema, metaSchemaErr
}

// parseMetadata validates raw against the page metadata schema. Empty input
// yields zero metadata, which means every field takes its default.
func parseMetadata(raw string) (PageMetadata, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "{}" {
		return PageMetadata{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return PageMetadata{}, fmt.Errorf("metadata is not JSON: %w", err)
	}
	schema, err := compiledMetadataSchema()
	if err != nil {
		return PageMetadata{}, err
	}
	if err := schema.Validate(v); err != nil {
		return PageMetadata{}, err
	}
	var meta PageMetadata
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(&meta); err != nil {
		return PageMetadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}
