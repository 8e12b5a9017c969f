// ABOUTME: Tool registry for assistant-invocable tools
// ABOUTME: Tools receive JSON input and read identity only from the request context

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one tool call. The ambient thread identity travels in
// ctx; tool inputs never carry a thread or user id of their own.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Tool is one invocable tool definition.
type Tool struct {
	Name        string
	Description string
	InputSchema string
	Handler     Handler
}

// Pack is a named group of related tools.
type Pack struct {
	ID    string
	Tools []*Tool
}

// Registry indexes tools from registered packs by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds every tool in a pack. Duplicate names are an error.
func (r *Registry) Register(pack *Pack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range pack.Tools {
		if _, exists := r.tools[t.Name]; exists {
			return fmt.Errorf("tool %q already registered", t.Name)
		}
		r.tools[t.Name] = t
	}
	return nil
}

// Invoke dispatches a tool call by name.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return t.Handler(ctx, input)
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
