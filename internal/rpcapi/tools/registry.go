// Package tools builds the hub's tool registry: name, description, and
// JSON-schema input shape for every built-in orchestrator tool, dispatched
// by internal/rpcapi's JSON-RPC hub rather than mcp-go's own transport.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handler executes one tool call against raw JSON params and returns a
// JSON-marshalable result, or an error the hub translates into an
// ErrorObject.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

type entry struct {
	definition mcp.Tool
	handler    Handler
}

// Registry is the hub's name -> {definition, handler} tool table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces a tool definition and its handler.
func (r *Registry) Register(def mcp.Tool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{definition: def, handler: h}
}

// List returns every registered tool definition, sorted by name for a
// stable tools/list response.
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call dispatches name with params, reporting ok=false if no such tool is
// registered.
func (r *Registry) Call(ctx context.Context, name string, params json.RawMessage) (interface{}, error, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	result, err := e.handler(ctx, params)
	return result, err, true
}
