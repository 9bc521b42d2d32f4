package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/logger"
	"github.com/chih3b/SanteConnect/internal/infra/tracer"
)

// Base holds what every agent shares: the tool and sub-agent registries and
// the agent's own message log. Concrete agents embed it and implement Process.
//
// Registries are filled during graph construction and only read afterwards.
// The log is appended by the agent's own request, so a Base must not be
// shared between concurrent requests; build one graph per request instead.
type Base struct {
	name        string
	description string
	logger      *slog.Logger

	tools  map[string]domain.Tool
	agents map[string]domain.Agent

	history []domain.Message
}

// NewBase creates a Base. A non-empty system prompt becomes the first message
// of the log and survives ClearHistory.
func NewBase(name, description, systemPrompt string, log *slog.Logger) *Base {
	b := &Base{
		name:        name,
		description: description,
		logger:      logger.OrDiscard(log).With("agent", name),
		tools:       make(map[string]domain.Tool),
		agents:      make(map[string]domain.Agent),
	}
	if systemPrompt != "" {
		b.record(domain.RoleSystem, systemPrompt, nil)
	}
	return b
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Description() string { return b.description }

// Logger returns the agent-scoped logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// RegisterTool adds t to the tool registry. A tool with the same name is
// replaced.
func (b *Base) RegisterTool(t domain.Tool) {
	if _, exists := b.tools[t.Name()]; exists {
		b.logger.Warn("tool re-registered, replacing previous", "tool", t.Name())
	}
	b.tools[t.Name()] = t
	b.logger.Debug("tool registered", "tool", t.Name())
}

// RegisterAgent adds a as a sub-agent under its name. An agent with the same
// name is replaced.
func (b *Base) RegisterAgent(a domain.Agent) {
	if _, exists := b.agents[a.Name()]; exists {
		b.logger.Warn("sub-agent re-registered, replacing previous", "sub_agent", a.Name())
	}
	b.agents[a.Name()] = a
	b.logger.Debug("sub-agent registered", "sub_agent", a.Name())
}

// HasTool reports whether a tool named name is registered.
func (b *Base) HasTool(name string) bool {
	_, ok := b.tools[name]
	return ok
}

// HasAgent reports whether a sub-agent named name is registered.
func (b *Base) HasAgent(name string) bool {
	_, ok := b.agents[name]
	return ok
}

// SubAgents returns the registered sub-agents in name order.
func (b *Base) SubAgents() []domain.Agent {
	out := make([]domain.Agent, 0, len(b.agents))
	for _, name := range domain.SortedNames(b.agents) {
		out = append(out, b.agents[name])
	}
	return out
}

// UseTool invokes the named tool and waits for its result. The invocation is
// logged to the message log. Tool errors are logged and returned wrapped in
// domain.ErrToolExecution.
func (b *Base) UseTool(ctx context.Context, name string, args domain.Args) (any, error) {
	t, ok := b.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Agent.UseTool", domain.ErrToolNotFound,
			fmt.Sprintf("tool %q not registered on %s", name, b.name))
	}

	b.logger.Debug("using tool", "tool", name, "params", argNames(args))
	result, err := domain.Execute(ctx, t, args).Await(ctx)
	if err != nil {
		b.logger.Error("tool execution failed", "tool", name, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrToolExecution, name, err)
	}

	b.record(domain.RoleTool, "Used tool: "+name, map[string]any{
		"tool":   name,
		"params": args,
		"result": result,
	})
	return result, nil
}

// DelegateTo hands task to the named sub-agent and returns its response
// unchanged. The only error is domain.ErrAgentNotFound.
func (b *Base) DelegateTo(ctx context.Context, name, task string, tc domain.TaskContext) (*domain.Response, error) {
	a, ok := b.agents[name]
	if !ok {
		return nil, domain.NewDomainError("Agent.DelegateTo", domain.ErrAgentNotFound,
			fmt.Sprintf("agent %q not registered on %s", name, b.name))
	}

	ctx, span := tracer.StartAgentSpan(ctx, "delegate", b.name, tracer.StringAttr("agent.target", name))
	defer span.End()

	b.logger.Info("delegating", "to", name, "task", truncateString(task, 100))
	resp := a.Process(ctx, task, tc)
	if resp == nil {
		resp = domain.Fail(name, "agent returned no response")
	}
	tracer.SetOutcome(span, resp.Success, resp.Error)

	b.record(domain.RoleAssistant, fmt.Sprintf("Delegated to %s: %s", name, task), map[string]any{
		"agent":    name,
		"task":     task,
		"response": resp,
	})
	return resp, nil
}

// History returns a copy of the message log.
func (b *Base) History() []domain.Message {
	return append([]domain.Message(nil), b.history...)
}

// ClearHistory drops every message except system messages.
func (b *Base) ClearHistory() {
	kept := b.history[:0]
	for _, m := range b.history {
		if m.Role == domain.RoleSystem {
			kept = append(kept, m)
		}
	}
	clear(b.history[len(kept):])
	b.history = kept
}

// Capabilities lists the agent's tools and sub-agents.
func (b *Base) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Name:        b.name,
		Description: b.description,
		Tools:       domain.SortedNames(b.tools),
		SubAgents:   domain.SortedNames(b.agents),
	}
}

func (b *Base) record(role, content string, metadata map[string]any) {
	b.history = append(b.history, domain.NewMessage(role, content, metadata))
}

// Serve is the Process boundary shared by all agents. It logs the task,
// opens the agent.process span and turns a panic in fn into a failed
// response so nothing escapes the agent as a panic or error.
func (b *Base) Serve(ctx context.Context, task string, tc domain.TaskContext, fn func(context.Context) *domain.Response) (resp *domain.Response) {
	ctx, span := tracer.StartAgentSpan(ctx, "process", b.name)
	defer span.End()

	b.record(domain.RoleUser, task, map[string]any{"context": tc})

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("agent panicked", "panic", r, "stack", string(debug.Stack()))
			resp = domain.Fail(b.name, fmt.Sprintf("internal error: %v", r))
		}
		if resp == nil {
			resp = domain.Fail(b.name, "no response produced")
		}
		tracer.SetOutcome(span, resp.Success, resp.Error)
	}()
	return fn(ctx)
}

func argNames(args domain.Args) []string {
	return domain.SortedNames(args)
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// resultAs asserts a tool result to T.
func resultAs[T any](tool string, v any) (T, error) {
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s returned %T", domain.ErrToolExecution, tool, v)
	}
	return out, nil
}
