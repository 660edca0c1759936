// Package tools holds the capabilities the model may invoke by name.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is a named function from a text input to a text observation.
type Tool interface {
	Name() string
	Description() string
	InputSchema() string
	Call(ctx context.Context, input string) (string, error)
}

// Registry holds the tools available to a run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prompt describes every tool for the system prompt, one per line.
func (r *Registry) Prompt() string {
	var sb strings.Builder
	for _, name := range r.Names() {
		t, _ := r.Get(name)
		fmt.Fprintf(&sb, "- %s: %s Input: %s\n", name, t.Description(), t.InputSchema())
	}
	return sb.String()
}
