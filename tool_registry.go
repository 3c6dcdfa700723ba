package llmprovider

import (
	"fmt"
	"sort"
	"sync"
)

// ToolRegistry holds the tools available to one conversation.
// Lookups happen by name at dispatch time; definitions never change once
// registered.
type ToolRegistry struct {
	tools map[string]*ToolDefinition
	order []string
	mu    sync.RWMutex
}

// NewToolRegistry creates a registry pre-populated with defs.
func NewToolRegistry(defs ...*ToolDefinition) (*ToolRegistry, error) {
	r := &ToolRegistry{
		tools: make(map[string]*ToolDefinition),
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustToolRegistry is like NewToolRegistry but panics on error. Intended for
// static tool sets in main packages and tests.
func MustToolRegistry(defs ...*ToolDefinition) *ToolRegistry {
	r, err := NewToolRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a tool definition to the registry
func (r *ToolRegistry) Register(def *ToolDefinition) error {
	if def == nil {
		return fmt.Errorf("tool definition is required")
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("tool %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Get retrieves a tool definition by name
func (r *ToolRegistry) Get(name string) (*ToolDefinition, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return def, nil
}

// Lookup retrieves a tool definition by name and reports whether it exists.
func (r *ToolRegistry) Lookup(name string) (*ToolDefinition, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	return def, ok
}

// IsRegistered checks if a tool is registered
func (r *ToolRegistry) IsRegistered(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// List returns all registered tool names, sorted
func (r *ToolRegistry) List() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools renders every definition in registration order for a provider request.
func (r *ToolRegistry) Tools() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name].Tool())
	}
	return tools
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
