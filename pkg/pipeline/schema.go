package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema returns the JSON schema of a pipeline definition generated from the Go
// types. It documents the format; loading validates against the embedded,
// stricter schema.
func Schema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[Pipeline](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate pipeline schema: %w", err)
	}
	schema.Title = "sgtm pipeline definition"
	return schema, nil
}

// SchemaJSON returns Schema as indented JSON.
func SchemaJSON() ([]byte, error) {
	schema, err := Schema()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(schema, "", "  ")
}
