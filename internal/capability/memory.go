package capability

import (
	"context"
	"encoding/json"

	"github.com/mvaldr/cascade/pkg/schema"
)

// MemoryStore persists and recalls notes across runs. Satisfied by the
// history store; tests use small fakes.
type MemoryStore interface {
	SaveMemory(ctx context.Context, key string, content map[string]any) error
	RecallMemories(ctx context.Context, key string, limit int) ([]map[string]any, error)
}

const memoryInputSchema = `{
  "type": "object",
  "properties": {
    "op": {"type": "string", "enum": ["record", "recall"]},
    "key": {"type": "string"},
    "content": {"type": "object"},
    "limit": {"type": "integer", "default": 10}
  },
  "required": ["op", "key"]
}`

const defaultRecallLimit = 10

// Memory implements the "memory" capability: record and recall notes keyed
// by topic, backed by the run-history store.
type Memory struct {
	store MemoryStore
}

// NewMemory creates a memory capability backed by the given store.
func NewMemory(store MemoryStore) *Memory {
	return &Memory{store: store}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Describe() Descriptor {
	return Descriptor{
		Description: "Record or recall notes keyed by topic.",
		InputSchema: json.RawMessage(memoryInputSchema),
	}
}

func (m *Memory) Invoke(ctx context.Context, req Request) (*Response, error) {
	if m.store == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "memory: no store configured")
	}

	params := req.Payload
	if params == nil {
		params = map[string]any{}
	}

	op := stringParam(params, "op", "")
	key := stringParam(params, "key", "")
	if key == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "memory: missing required param 'key'")
	}

	switch op {
	case "record":
		content := mapParam(params, "content")
		if content == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "memory: record requires 'content'")
		}
		if err := m.store.SaveMemory(ctx, key, content); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "memory: record failed: %v", err).WithCause(err)
		}
		data, _ := json.Marshal(map[string]any{"recorded": true, "key": key})
		return &Response{Result: json.RawMessage(data)}, nil

	case "recall":
		limit := intParam(params, "limit", defaultRecallLimit)
		entries, err := m.store.RecallMemories(ctx, key, limit)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "memory: recall failed: %v", err).WithCause(err)
		}
		data, err := json.Marshal(map[string]any{"key": key, "entries": entries})
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeCapability, "memory: failed to marshal output").WithCause(err)
		}
		return &Response{Result: json.RawMessage(data)}, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "memory: unknown op %q", op)
	}
}
