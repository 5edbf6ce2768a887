package pipeline

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/parser"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var loadLog = logger.New("pipeline:load")

// DefaultPath is where the pipeline definition lives in a repository.
const DefaultPath = ".sgtm/pipeline.yml"

//go:embed schemas/pipeline.json
var pipelineSchemaJSON string

const pipelineSchemaURL = "pipeline.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pipelineSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(pipelineSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add pipeline schema: %w", err)
	}
	return compiler.Compile(pipelineSchemaURL)
})

// Load reads and parses a pipeline definition file.
func Load(path string) (*Pipeline, error) {
	loadLog.Printf("Loading pipeline from %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition: %w", err)
	}

	p, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	p.source = path
	return p, nil
}

// Parse parses a pipeline definition. The document is validated against the
// pipeline schema before decoding; structural rules are left to Validate.
func Parse(data []byte) (*Pipeline, error) {
	return parse("<input>", data)
}

func parse(path string, data []byte) (*Pipeline, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &LoadError{Path: path, Message: "pipeline definition is empty"}
	}

	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		line, column, msg := extractYAMLError(err)
		return nil, &LoadError{Path: path, Line: line, Column: column, Message: msg, Source: data}
	}

	if err := validateSchema(path, data, jsonData); err != nil {
		return nil, err
	}

	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		line, column, msg := extractYAMLError(err)
		return nil, &LoadError{Path: path, Line: line, Column: column, Message: msg, Source: data}
	}
	p.normalize()

	loadLog.Printf("Parsed pipeline: version=%d, jobs=%v", p.Version, p.JobNames())
	return &p, nil
}

// validateSchema validates the JSON form of the document and maps the first
// violation back to its position in the YAML source.
func validateSchema(path string, yamlData, jsonData []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to decode pipeline definition: %w", err)
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("failed to validate pipeline definition: %w", err)
	}

	leaf := firstLeafCause(verr)
	loadErr := &LoadError{Path: path, Message: leafMessage(leaf), Source: yamlData}
	loadErr.Line, loadErr.Column = locateInstance(yamlData, leaf.InstanceLocation)
	loadLog.Printf("Schema violation at /%s: %s", strings.Join(leaf.InstanceLocation, "/"), loadErr.Message)
	return loadErr
}

func firstLeafCause(verr *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr
}

// leafMessage strips the "at '/path':" prefix the validator puts in front of
// messages, since the location is reported separately.
func leafMessage(verr *jsonschema.ValidationError) string {
	msg := strings.TrimSpace(verr.Error())
	if lines := strings.Split(msg, "\n"); len(lines) > 1 {
		msg = strings.TrimSpace(lines[len(lines)-1])
	}
	msg = strings.TrimPrefix(msg, "- ")
	if strings.HasPrefix(msg, "at '") {
		if idx := strings.Index(msg, "': "); idx >= 0 {
			msg = msg[idx+3:]
		}
	}
	return msg
}

// locateInstance finds the YAML position of a JSON instance location using
// goccy/go-yaml paths. Unknown locations return zeros.
func locateInstance(data []byte, location []string) (line, column int) {
	file, err := parser.ParseBytes(data, 0)
	if err != nil {
		return 0, 0
	}

	var b strings.Builder
	b.WriteString("$")
	for _, segment := range location {
		if _, err := strconv.Atoi(segment); err == nil {
			fmt.Fprintf(&b, "[%s]", segment)
			continue
		}
		if strings.ContainsAny(segment, ".[]' ") {
			fmt.Fprintf(&b, ".'%s'", segment)
			continue
		}
		b.WriteString("." + segment)
	}

	path, err := yaml.PathString(b.String())
	if err != nil {
		return 0, 0
	}
	node, err := path.FilterFile(file)
	if err != nil || node == nil {
		return 0, 0
	}
	tok := node.GetToken()
	if tok == nil || tok.Position == nil {
		return 0, 0
	}
	return tok.Position.Line, tok.Position.Column
}
