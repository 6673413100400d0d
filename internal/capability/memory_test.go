package capability

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldr/cascade/pkg/schema"
)

// fakeMemoryStore keeps entries in a map for tests.
type fakeMemoryStore struct {
	entries map[string][]map[string]any
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{entries: make(map[string][]map[string]any)}
}

func (f *fakeMemoryStore) SaveMemory(ctx context.Context, key string, content map[string]any) error {
	f.entries[key] = append(f.entries[key], content)
	return nil
}

func (f *fakeMemoryStore) RecallMemories(ctx context.Context, key string, limit int) ([]map[string]any, error) {
	list := f.entries[key]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

func TestMemory_RecordAndRecall(t *testing.T) {
	store := newFakeMemoryStore()
	c := NewMemory(store)

	_, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"op":      "record",
		"key":     "weather",
		"content": map[string]any{"city": "osaka"},
	}})
	require.NoError(t, err)

	resp, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"op":  "recall",
		"key": "weather",
	}})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	entries, ok := out["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
}

func TestMemory_RecallLimit(t *testing.T) {
	store := newFakeMemoryStore()
	c := NewMemory(store)

	for i := range 5 {
		_, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
			"op":      "record",
			"key":     "notes",
			"content": map[string]any{"i": i},
		}})
		require.NoError(t, err)
	}

	resp, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"op":    "recall",
		"key":   "notes",
		"limit": 2,
	}})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	entries := out["entries"].([]any)
	assert.Len(t, entries, 2)
}

func TestMemory_Validation(t *testing.T) {
	c := NewMemory(newFakeMemoryStore())

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"missing key", map[string]any{"op": "record"}},
		{"unknown op", map[string]any{"op": "forget", "key": "x"}},
		{"record without content", map[string]any{"op": "record", "key": "x"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Invoke(context.Background(), Request{Payload: tc.payload})
			require.Error(t, err)

			var cErr *schema.CascadeError
			require.ErrorAs(t, err, &cErr)
			assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
		})
	}
}

func TestMemory_NoStore(t *testing.T) {
	c := NewMemory(nil)

	_, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"op":  "recall",
		"key": "x",
	}})
	require.Error(t, err)

	var cErr *schema.CascadeError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeConfiguration, cErr.Code)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()

	err := RegisterBuiltins(reg, BuiltinConfig{Memory: newFakeMemoryStore()})
	require.NoError(t, err)

	for _, name := range []string{"shell.exec", "http.fetch", "expr.eval", "jq", "template", "memory"} {
		assert.True(t, reg.Has(name), "builtin %q should be registered", name)
	}
	// mcp.tool is opt-in.
	assert.False(t, reg.Has("mcp.tool"))
}
