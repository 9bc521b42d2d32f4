package multiagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/usecase"
	"github.com/chih3b/SanteConnect/internal/usecase/workflow"
)

// WorkflowSource resolves named workflows.
type WorkflowSource interface {
	Get(name string) ([]domain.WorkflowStep, error)
}

// Options configures an Orchestrator.
type Options struct {
	// BatchConcurrency above 1 runs batch items on that many workers.
	// NewWorker must then be set.
	BatchConcurrency int
	// NewWorker builds an independent orchestrator graph for one batch item.
	NewWorker func() *Orchestrator
	// Workflows resolves context.workflow names. Optional.
	Workflows WorkflowSource
}

// Orchestrator is the entry point of the agent graph. It routes single
// tasks, runs batches of independent tasks and runs workflows of ordered
// delegations.
type Orchestrator struct {
	*usecase.Base
	routes *routingTable
	runner *workflow.Runner
	opts   Options
	now    func() time.Time
}

// NewOrchestrator creates an Orchestrator. Register sub-agents and routing
// rules on it before serving requests.
func NewOrchestrator(opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Base: usecase.NewBase(domain.AgentOrchestrator,
			"Top-level orchestrator that routes tasks to specialized agents and coordinates workflows",
			`You are the system orchestrator. Your responsibilities:
1. Analyze incoming requests and determine which agent(s) to use
2. Coordinate complex multi-step workflows
3. Handle batch processing and parallel tasks
4. Provide fallback strategies when agents fail
5. Aggregate and format results from multiple agents
6. Maintain overall system state and context`,
			logger),
		routes: newRoutingTable(),
		runner: workflow.NewRunner(logger),
		opts:   opts,
		now:    time.Now,
	}
}

// AddRoutingRule routes tasks containing pattern to agent. Among matching
// rules the highest priority wins.
func (o *Orchestrator) AddRoutingRule(pattern, agent string, priority int) {
	o.routes.add(pattern, agent, priority)
	o.Logger().Info("routing rule added", "pattern", pattern, "target", agent, "priority", priority)
}

// Route resolves the agent a single task goes to.
func (o *Orchestrator) Route(task string) string {
	if agent, ok := o.routes.match(task); ok {
		return agent
	}
	return routeByKeyword(task)
}

// Process dispatches on tc.TaskType, or on keywords in task when unset.
func (o *Orchestrator) Process(ctx context.Context, task string, tc domain.TaskContext) *domain.Response {
	requestID := o.newID()
	resp := o.Serve(ctx, task, tc, func(ctx context.Context) *domain.Response {
		taskType := tc.TaskType
		if taskType == "" {
			taskType = inferTaskType(task)
		}
		o.Logger().Debug("task classified", "type", taskType, "request_id", requestID)

		switch taskType {
		case domain.TaskBatch:
			return o.processBatch(ctx, tc)
		case domain.TaskWorkflow:
			return o.processWorkflow(ctx, tc)
		default:
			return o.processSingle(ctx, task, tc)
		}
	})
	if resp.AgentName == o.Name() {
		resp.Metadata["request_id"] = requestID
	}
	return resp
}

func (o *Orchestrator) processSingle(ctx context.Context, task string, tc domain.TaskContext) *domain.Response {
	target := tc.Agent
	if target == "" {
		target = o.Route(task)
	}
	if !o.HasAgent(target) {
		return domain.Fail(o.Name(), fmt.Sprintf("Agent '%s' not available", target))
	}

	o.Logger().Info("routing task", "target", target, "task", truncate(task, 100))
	resp, err := o.DelegateTo(ctx, target, task, tc)
	if err != nil {
		return domain.Fail(o.Name(), "Task processing failed: "+err.Error())
	}
	return resp
}

func (o *Orchestrator) processBatch(ctx context.Context, tc domain.TaskContext) *domain.Response {
	items := tc.Tasks
	if len(items) == 0 {
		return domain.Fail(o.Name(), "No tasks provided for batch processing")
	}

	results := make([]domain.BatchItemResult, len(items))
	if o.opts.BatchConcurrency > 1 && o.opts.NewWorker != nil {
		var g errgroup.Group
		g.SetLimit(o.opts.BatchConcurrency)
		for i, item := range items {
			g.Go(func() error {
				results[i] = o.opts.NewWorker().runItem(ctx, i, len(items), item)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, item := range items {
			results[i] = o.runItem(ctx, i, len(items), item)
		}
	}

	summary := domain.BatchSummary{Total: len(items)}
	for _, r := range results {
		if r.Result.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	rate := math.Round(float64(summary.Successful)/float64(summary.Total)*1000) / 1000
	o.Logger().Info("batch completed", "total", summary.Total, "successful", summary.Successful, "failed", summary.Failed)

	return domain.OK(o.Name(),
		&domain.Data{Batch: &domain.BatchResult{Results: results, Summary: summary}},
		nil,
		map[string]any{
			"batch_size":   len(items),
			"success_rate": rate,
		},
	)
}

// runItem processes one batch item as a single task. A panic fails only
// this item.
func (o *Orchestrator) runItem(ctx context.Context, i, total int, item domain.BatchItem) (res domain.BatchItemResult) {
	id := item.ID
	if id == "" {
		id = strconv.Itoa(i)
	}
	res = domain.BatchItemResult{TaskID: id, Task: item.Task}

	defer func() {
		if r := recover(); r != nil {
			o.Logger().Error("batch item panicked", "task_id", id, "panic", r, "stack", string(debug.Stack()))
			res.Result = domain.Fail(o.Name(), fmt.Sprintf("Task processing failed: %v", r))
		}
	}()

	o.Logger().Info("processing batch task", "n", i+1, "of", total, "task_id", id)
	res.Result = o.processSingle(ctx, item.Task, item.Context)
	return res
}

func (o *Orchestrator) processWorkflow(ctx context.Context, tc domain.TaskContext) *domain.Response {
	steps := tc.WorkflowSteps
	if len(steps) == 0 && tc.Workflow != "" {
		if o.opts.Workflows == nil {
			return domain.Fail(o.Name(), fmt.Sprintf("Workflow processing failed: unknown workflow %q", tc.Workflow))
		}
		var err error
		if steps, err = o.opts.Workflows.Get(tc.Workflow); err != nil {
			return domain.Fail(o.Name(), "Workflow processing failed: "+err.Error())
		}
	}
	if len(steps) == 0 {
		steps = workflow.DefaultSteps()
	}

	wfCtx := tc.Clone()
	wfCtx.TaskType = ""
	wfCtx.Workflow = ""
	wfCtx.WorkflowSteps = nil

	res, err := o.runner.Run(ctx, o, steps, wfCtx)
	metadata := map[string]any{"num_steps": len(steps)}
	if res != nil {
		metadata["completed_steps"] = len(res.WorkflowResults)
		metadata["run_id"] = res.RunID
	}
	if err != nil {
		var stepErr *workflow.StepError
		if !errors.As(err, &stepErr) {
			return domain.Fail(o.Name(), "Workflow processing failed: "+err.Error())
		}
		failed := domain.Fail(o.Name(), stepErr.Error()).WithData(&domain.Data{Workflow: res})
		failed.Metadata = metadata
		return failed
	}
	return domain.OK(o.Name(), &domain.Data{Workflow: res}, nil, metadata)
}

// SystemStatus reports the orchestrator's capabilities and those of every
// registered sub-agent.
func (o *Orchestrator) SystemStatus() *domain.SystemStatus {
	status := &domain.SystemStatus{
		Orchestrator: o.Capabilities(),
		SubAgents:    make(map[string]domain.Capabilities),
	}
	for _, a := range o.SubAgents() {
		if cr, ok := a.(domain.CapabilityReporter); ok {
			status.SubAgents[a.Name()] = cr.Capabilities()
			continue
		}
		status.SubAgents[a.Name()] = domain.Capabilities{
			Name:        a.Name(),
			Description: a.Description(),
			Tools:       []string{},
			SubAgents:   []string{},
		}
	}
	return status
}

// RoutingRules reports how many routing rules are registered.
func (o *Orchestrator) RoutingRules() int { return o.routes.len() }

func (o *Orchestrator) newID() string {
	t := o.now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

var _ domain.Agent = (*Orchestrator)(nil)
