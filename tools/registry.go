// Package tools is the tool-execution capability: a registry of tools with
// JSON-Schema validated arguments, the built-in file, search and shell
// tools, and a concurrent executor that turns every outcome into result
// text.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/martinemde/agentgraph/model"
)

// Kind classifies a tool by its side effects. The confirmation gate and
// plan-mode filtering key off it.
type Kind string

const (
	KindReadOnly Kind = "read_only"
	KindEdit     Kind = "edit"
	KindShell    Kind = "shell"
)

// Invocation is what a Handler receives for one call.
type Invocation struct {
	CallID    string
	Arguments json.RawMessage
	Env       Environment
	// Progress reports incremental output. Never nil.
	Progress func(chunk string)
}

// Handler executes one tool call. Returned errors become error results.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Tool pairs a definition with its kind and handler.
type Tool struct {
	Definition model.ToolDefinition
	Kind       Kind
	Handler    Handler
}

type registered struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register adds or replaces a tool. The parameter schema is compiled once
// here; an invalid schema is a programming error and is returned.
func (r *Registry) Register(tool Tool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("register tool %s: handler is required", tool.Definition.Name)
	}
	if tool.Kind == "" {
		tool.Kind = KindEdit
	}

	var schema *gojsonschema.Schema
	if tool.Definition.Parameters != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Definition.Parameters))
		if err != nil {
			return fmt.Errorf("register tool %s: invalid parameter schema: %w", tool.Definition.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &registered{tool: tool, schema: schema}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return reg.tool, true
}

// KindOf returns the kind of the named tool. Unknown tools are treated as
// edits so they are never waved through.
func (r *Registry) KindOf(name string) Kind {
	if tool, ok := r.Get(name); ok {
		return tool.Kind
	}
	return KindEdit
}

// Definitions returns the definitions of tools accepted by filter (all
// tools when filter is nil), sorted by name.
func (r *Registry) Definitions(filter func(Tool) bool) []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, reg := range r.tools {
		if filter == nil || filter(reg.tool) {
			defs = append(defs, reg.tool.Definition)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	defs := r.Definitions(nil)
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// ReadOnly is a Definitions filter selecting read-only tools.
func ReadOnly(t Tool) bool {
	return t.Kind == KindReadOnly
}

// ValidationError reports a structurally invalid tool call: unknown tool,
// malformed JSON, or arguments failing the tool's schema.
type ValidationError struct {
	CallID   string
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid call %s to tool %q: %s", e.CallID, e.Tool, strings.Join(e.Problems, "; "))
}

// Validate checks a call against the registry. It returns a
// *ValidationError when the call cannot be executed as given.
func (r *Registry) Validate(callID, name string, args json.RawMessage) error {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ValidationError{CallID: callID, Tool: name, Problems: []string{"unknown tool"}}
	}

	doc := args
	if len(strings.TrimSpace(string(doc))) == 0 {
		doc = json.RawMessage(`{}`)
	}
	if !json.Valid(doc) {
		return &ValidationError{CallID: callID, Tool: name, Problems: []string{"arguments are not valid JSON"}}
	}
	if reg.schema == nil {
		return nil
	}

	result, err := reg.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ValidationError{CallID: callID, Tool: name, Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return &ValidationError{CallID: callID, Tool: name, Problems: problems}
	}
	return nil
}

func defn(name, description string, params map[string]any) model.ToolDefinition {
	return model.ToolDefinition{Name: name, Description: description, Parameters: params}
}
