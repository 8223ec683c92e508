// Package tools declares the tools the assistant's model can call and
// executes them against the connected services.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hanig/hani-replica/internal/action"
)

// Handler runs a tool. The returned value is rendered for the model by
// Result.Content.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewEmptyRegistry returns a registry with no tools.
func NewEmptyRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry, replacing any tool of the same
// name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// AllToolNames returns the names of every registered tool, sorted.
func (r *Registry) AllToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilteredCopy returns a registry holding only the named tools. Names
// that are not registered are skipped.
func (r *Registry) FilteredCopy(include []string) *Registry {
	out := NewEmptyRegistry()
	for _, name := range include {
		if t, ok := r.tools[name]; ok {
			out.tools[name] = t
		}
	}
	return out
}

// List returns tool definitions for the model, sorted by name. With
// names given, only those tools are listed.
func (r *Registry) List(names ...string) []map[string]any {
	if len(names) > 0 {
		return r.FilteredCopy(names).List()
	}
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.AllToolNames() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Result is the uniform outcome of a tool call.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Content renders the result as the model sees it.
func (r Result) Content() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	if s, ok := r.Data.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(r.Data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", r.Data)
	}
	return string(b)
}

// Confirmation returns the confirmation request carried by a mutating
// tool's result.
func (r Result) Confirmation() (action.Confirmation, bool) {
	m, ok := r.Data.(map[string]any)
	if !ok {
		return action.Confirmation{}, false
	}
	if req, _ := m["requires_confirmation"].(bool); !req {
		return action.Confirmation{}, false
	}
	c, ok := m["confirmation"].(action.Confirmation)
	return c, ok
}

// Observer is told about every execution, e.g. for the audit trail.
type Observer func(ctx context.Context, name string, args map[string]any, res Result, elapsed time.Duration)

// Executor runs tools from a registry. It never returns an error and
// never lets a handler panic escape.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	observe  Observer
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// Registry returns the executor's registry.
func (e *Executor) Registry() *Registry { return e.registry }

// OnExecute sets the observer. Not safe to call concurrently with
// Execute.
func (e *Executor) OnExecute(fn Observer) { e.observe = fn }

// WithRegistry returns an executor sharing e's logger and observer over
// a different registry.
func (e *Executor) WithRegistry(r *Registry) *Executor {
	return &Executor{registry: r, logger: e.logger, observe: e.observe}
}

// Execute runs the named tool.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Result {
	start := time.Now()
	res := e.run(ctx, name, args)
	elapsed := time.Since(start)

	if res.Success {
		e.logger.Debug("tool executed", "tool", name, "elapsed", elapsed)
	} else {
		e.logger.Warn("tool failed", "tool", name, "error", res.Error, "elapsed", elapsed)
	}
	if e.observe != nil {
		e.observe(ctx, name, args, res, elapsed)
	}
	return res
}

func (e *Executor) run(ctx context.Context, name string, args map[string]any) (res Result) {
	tool := e.registry.Get(name)
	if tool == nil || tool.Handler == nil {
		return Result{Error: "Unknown tool: " + name}
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool panicked", "tool", name, "panic", p)
			res = Result{Error: fmt.Sprint(p)}
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	data, err := tool.Handler(ctx, args)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Data: data}
}

// Check returns an *ErrToolUnavailable when name is not registered.
func (e *Executor) Check(name string) error {
	if e.registry.Get(name) == nil {
		return &ErrToolUnavailable{ToolName: name}
	}
	return nil
}
