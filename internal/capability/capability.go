package capability

import (
	"context"
	"encoding/json"

	"github.com/mvaldr/cascade/pkg/schema"
)

// Capability is an executable unit of work bound to a graph node or
// pipeline step.
type Capability interface {
	Name() string
	Describe() Descriptor
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Descriptor describes a capability for listing and validation.
type Descriptor struct {
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Request is the data provided to a capability at invocation time.
// Payload carries the merged node input, including the "upstream" map of
// dependency slush when present.
type Request struct {
	Payload map[string]any `json:"payload"`
}

// Response is the raw result of a capability invocation.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// Resolver maps a capability name to its implementation. Runners receive a
// Resolver at construction; there is no global registry.
type Resolver func(name string) (Capability, bool)

// Info is a summary of a registered capability for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResultObject parses a response payload as a JSON object. A nil response,
// empty payload, or non-object payload yields nil without error; only
// malformed JSON is reported.
func ResultObject(resp *Response) (map[string]any, error) {
	if resp == nil || len(resp.Result) == 0 {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(resp.Result, &obj); err != nil {
		var anything any
		if json.Unmarshal(resp.Result, &anything) == nil {
			// Valid JSON but not an object.
			return nil, nil
		}
		return nil, schema.NewError(schema.ErrCodeCapability, "capability returned malformed JSON").WithCause(err)
	}
	return obj, nil
}

// ExtractSlush pulls the "slush" member out of a parsed result object.
// Returns nil when the response carries no usable slush.
func ExtractSlush(obj map[string]any) schema.Slush {
	if obj == nil {
		return nil
	}
	raw, ok := obj["slush"]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	return schema.Slush(m)
}
