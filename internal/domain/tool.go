package domain

import (
	"context"
	"fmt"
	"sort"
)

// Args are the named arguments of a tool invocation. Values are in-process
// Go values (images, masks, strings), not serialized JSON.
type Args map[string]any

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// Tool adapts one external capability to a uniform invocation contract.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]ParamSpec
	Invoke(ctx context.Context, args Args) (any, error)
}

// ToolSchema is the serializable description of a tool.
type ToolSchema struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
}

// SchemaOf returns the serializable description of t.
func SchemaOf(t Tool) ToolSchema {
	return ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()}
}

// Future is a pending tool invocation. Await is the explicit suspension point.
type Future struct {
	tool   string
	done   chan struct{}
	result any
	err    error
}

// Execute starts invoking t and returns a Future for its result. A panic in
// the tool is converted into an ErrToolExecution error.
func Execute(ctx context.Context, t Tool, args Args) *Future {
	f := &Future{tool: t.Name(), done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("%w: %s panicked: %v", ErrToolExecution, f.tool, r)
			}
		}()
		f.result, f.err = t.Invoke(ctx, args)
	}()
	return f
}

// Resolved returns a Future that is already complete.
func Resolved(tool string, result any, err error) *Future {
	f := &Future{tool: tool, done: make(chan struct{}), result: result, err: err}
	close(f.done)
	return f
}

// Done is closed once the invocation has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the invocation finishes or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, fmt.Errorf("await %s: %w", f.tool, ctx.Err())
	}
}

// SortedNames returns the keys of m in lexical order.
func SortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
