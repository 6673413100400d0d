package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"text/template"

	"github.com/mvaldr/cascade/pkg/schema"
)

const templateInputSchema = `{
  "type": "object",
  "properties": {
    "template": {"type": "string"},
    "data": {"type": "object"}
  },
  "required": ["template"]
}`

// Template implements the "template" capability: renders a Go text/template
// over the request payload, typically to format upstream slush into prose.
type Template struct {
	mu    sync.RWMutex
	cache map[string]*template.Template
}

// NewTemplate creates a template capability.
func NewTemplate() *Template {
	return &Template{
		cache: make(map[string]*template.Template),
	}
}

func (t *Template) Name() string { return "template" }

func (t *Template) Describe() Descriptor {
	return Descriptor{
		Description: "Render a Go text/template against the request payload.",
		InputSchema: json.RawMessage(templateInputSchema),
	}
}

func (t *Template) Invoke(ctx context.Context, req Request) (*Response, error) {
	params := req.Payload
	if params == nil {
		params = map[string]any{}
	}

	tmplStr := stringParam(params, "template", "")
	if tmplStr == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "template: missing required param 'template'")
	}

	env := mapParam(params, "data")
	if env == nil {
		env = params
	}

	tmpl, err := t.getOrParse(tmplStr)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCapability, "template: render failed: %v", err).WithCause(err)
	}

	data, err := json.Marshal(map[string]any{"text": buf.String()})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "template: failed to marshal output").WithCause(err)
	}
	return &Response{Result: json.RawMessage(data)}, nil
}

func (t *Template) getOrParse(tmplStr string) (*template.Template, error) {
	t.mu.RLock()
	if tmpl, ok := t.cache[tmplStr]; ok {
		t.mu.RUnlock()
		return tmpl, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if tmpl, ok := t.cache[tmplStr]; ok {
		return tmpl, nil
	}

	tmpl, err := template.New("capability").Option("missingkey=zero").Parse(tmplStr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "template: parse error: %v", err).WithCause(err)
	}

	t.cache[tmplStr] = tmpl
	return tmpl, nil
}
