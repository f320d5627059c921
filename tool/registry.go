package tool

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools *orderedmap.OrderedMap[string, Tool]
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: orderedmap.New[string, Tool]()}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t under its schema name. An existing tool with the same name is
// replaced and keeps its position.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	r.tools.Set(t.Schema().Name, t)
	r.mu.Unlock()
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools.Get(name)
}

// Resolve is Lookup returning a NotFoundError for unknown names.
func (r *Registry) Resolve(name string) (Tool, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return t, nil
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools.Len()
}

// Names lists the registered names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Schemas lists the canonical schemas in registration order.
func (r *Registry) Schemas() []Schema {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Schema, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		schemas = append(schemas, pair.Value.Schema())
	}
	return schemas
}
