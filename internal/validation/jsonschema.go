package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mvaldr/cascade/pkg/schema"
)

// graphSchemaJSON is the JSON Schema for graph spec documents.
// Embedded as a constant to avoid filesystem dependencies.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cascade.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "name": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "node_timeout": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "stop_on_error": { "type": "boolean" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["name", "capability"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "capability": { "type": "string", "minLength": 1 },
        "static_input": { "type": "object" },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// pipelineSchemaJSON is the JSON Schema for pipeline spec documents.
const pipelineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cascade.dev/schemas/pipeline.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["agent", "parallel", "conditional", "loop"]
        },
        "capability": { "type": "string" },
        "capabilities": {
          "type": "array",
          "items": { "type": "string" }
        },
        "static_input": { "type": "object" },
        "condition": { "$ref": "#/$defs/condition" },
        "max_iterations": {
          "type": "integer",
          "minimum": 1
        },
        "on_error": {
          "type": "string",
          "enum": ["stop", "continue", "skip"]
        }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "properties": {
        "field": { "type": "string" },
        "equals": {},
        "exists": { "type": "boolean" },
        "expr": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// DocumentValidator validates raw spec documents against JSON Schema Draft
// 2020-12 before they are unmarshalled. It is safe for concurrent use.
type DocumentValidator struct {
	graphSchema    *jsonschema.Schema
	pipelineSchema *jsonschema.Schema

	// mu guards the cache for dynamic input schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewDocumentValidator creates a DocumentValidator with the graph and
// pipeline schemas pre-compiled.
func NewDocumentValidator() (*DocumentValidator, error) {
	graph, err := compileConst("https://cascade.dev/schemas/graph.json", graphSchemaJSON)
	if err != nil {
		return nil, err
	}
	pipeline, err := compileConst("https://cascade.dev/schemas/pipeline.json", pipelineSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &DocumentValidator{
		graphSchema:    graph,
		pipelineSchema: pipeline,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

func compileConst(url, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return compiled, nil
}

// ValidateGraphDoc validates a raw graph spec document.
func (v *DocumentValidator) ValidateGraphDoc(raw []byte) error {
	return validateDoc(v.graphSchema, raw, "graph spec")
}

// ValidatePipelineDoc validates a raw pipeline spec document.
func (v *DocumentValidator) ValidatePipelineDoc(raw []byte) error {
	return validateDoc(v.pipelineSchema, raw, "pipeline spec")
}

func validateDoc(compiled *jsonschema.Schema, raw []byte, what string) error {
	if len(raw) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s document is empty", what)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s is not valid JSON", what).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toCascadeError(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw
// bytes. The schema is compiled and cached for subsequent calls.
func (v *DocumentValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Round-trip through JSON so numbers become json.Number as the
	// jsonschema library requires.
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toCascadeError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *DocumentValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring the write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("cascade://input-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toCascadeError converts a jsonschema.ValidationError into a CascadeError
// with the individual violations collected into details.
func toCascadeError(err error) *schema.CascadeError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
