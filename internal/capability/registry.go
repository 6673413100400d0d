package capability

import (
	"sort"
	"sync"

	"github.com/mvaldr/cascade/pkg/schema"
)

// Registry is a thread-safe name to Capability map. Its Resolve method
// satisfies the Resolver signature expected by the runners.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]Capability),
	}
}

// Register adds a capability to the registry. Returns error on duplicate name.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "capability is nil")
	}
	name := c.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "capability name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "capability %q already registered", name)
	}

	r.capabilities[name] = c
	return nil
}

// Resolve retrieves a capability by name. Satisfies Resolver.
func (r *Registry) Resolve(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[name]
	return c, ok
}

// Get retrieves a capability by name, with a structured error on miss.
func (r *Registry) Get(name string) (Capability, error) {
	c, ok := r.Resolve(name)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownCapability, "capability %q not registered", name)
	}
	return c, nil
}

// Has checks if a capability is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capabilities)
}

// List returns info for all registered capabilities, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		d := c.Describe()
		infos = append(infos, Info{
			Name:        c.Name(),
			Description: d.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
