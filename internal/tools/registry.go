package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Model-invented prefixes stripped during fuzzy name resolution.
var fuzzyPrefixes = []string{"default_api.", "api.", "tools."}

// Registry manages available tools with thread-safe registration and lookup.
// Each agent gets its own registry, typically derived from a shared default
// set via With.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry ready for tool registration.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Names are unique; registering a
// duplicate is an error so a misconfigured tool set fails loudly at startup.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fmt.Errorf("register tool: name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool: %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool by name. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by exact name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Resolve returns a tool by name, falling back to fuzzy resolution: if the
// exact name is unknown, any of the prefixes default_api., api. or tools. is
// stripped and the lookup retried. The returned canonical name differs from
// the input when a prefix was stripped.
func (r *Registry) Resolve(name string) (tool Tool, canonical string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tool, ok := r.tools[name]; ok {
		return tool, name, true
	}
	for _, prefix := range fuzzyPrefixes {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		stripped := strings.TrimPrefix(name, prefix)
		if tool, ok := r.tools[stripped]; ok {
			return tool, stripped, true
		}
	}
	return nil, name, false
}

// List returns all registered tools sorted by name, so derived prompts and
// schemas are deterministic.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// With returns a new registry holding this registry's tools plus the given
// extras. An extra with a name already present replaces the shared tool, so
// agent-specific tools win over defaults.
func (r *Registry) With(extras ...Tool) *Registry {
	derived := NewRegistry()

	r.mu.RLock()
	for name, tool := range r.tools {
		derived.tools[name] = tool
	}
	r.mu.RUnlock()

	for _, tool := range extras {
		if tool == nil {
			continue
		}
		derived.tools[tool.Name()] = tool
	}
	return derived
}
