package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/oklog/ulid/v2"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/logger"
)

// Delegator runs a task on a named sub-agent.
type Delegator interface {
	DelegateTo(ctx context.Context, name, task string, tc domain.TaskContext) (*domain.Response, error)
}

// StepError reports a failed required step. Result carries the steps that
// ran, including the failed one.
type StepError struct {
	Step    int
	Agent   string
	Message string
	Result  *domain.WorkflowResult
}

func (e *StepError) Error() string {
	return fmt.Sprintf("Required workflow step %d failed: %s", e.Step, e.Message)
}

func (e *StepError) Unwrap() error { return domain.ErrPipelineStage }

// DefaultSteps is the workflow run when a request names no steps: the OCR
// pipeline expressed as individual delegations.
func DefaultSteps() []domain.WorkflowStep {
	return []domain.WorkflowStep{
		{Agent: domain.AgentSegmentation, Task: "segment image"},
		{Agent: domain.AgentTextRecognition, Task: "recognize text"},
		{Agent: domain.AgentPHIFilter, Task: "filter phi"},
		{Agent: domain.AgentDrugInformation, Task: "extract medications", Required: domain.Ptr(false)},
	}
}

// Runner executes workflow steps in order, threading a shared context.
type Runner struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(log *slog.Logger) *Runner {
	return &Runner{logger: logger.OrDiscard(log), now: time.Now}
}

// Run delegates each step in turn. Each step sees the workflow context with
// its own params applied on top; after a successful step the step's data is
// merged into the workflow context. A failed required step stops the run
// with a *StepError; a failed optional step is recorded and skipped.
func (r *Runner) Run(ctx context.Context, d Delegator, steps []domain.WorkflowStep, tc domain.TaskContext) (*domain.WorkflowResult, error) {
	if len(steps) == 0 {
		steps = DefaultSteps()
	}

	wfCtx := tc.Clone()
	result := &domain.WorkflowResult{
		RunID:           generateRunID(r.now()),
		WorkflowResults: make([]domain.WorkflowStepResult, 0, len(steps)),
	}
	log := r.logger.With("run_id", result.RunID)

	for i, step := range steps {
		n := i + 1
		log.Info("executing workflow step", "step", n, "of", len(steps), "agent", step.Agent)

		resp := r.runStep(ctx, d, step, wfCtx)
		result.WorkflowResults = append(result.WorkflowResults, domain.WorkflowStepResult{
			Step:   n,
			Agent:  step.Agent,
			Task:   step.Task,
			Result: resp,
		})

		if resp.Failed() {
			log.Warn("workflow step failed", "step", n, "agent", step.Agent, "error", resp.Error)
			if step.IsRequired() {
				return result, &StepError{Step: n, Agent: step.Agent, Message: resp.Error, Result: result}
			}
			continue
		}
		wfCtx.Merge(resp.Data)
	}

	result.FinalContext = &wfCtx
	log.Info("workflow completed", "steps", len(steps))
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, d Delegator, step domain.WorkflowStep, wfCtx domain.TaskContext) *domain.Response {
	stepCtx, err := applyParams(wfCtx, step.Params)
	if err != nil {
		return domain.Fail(step.Agent, err.Error())
	}
	resp, err := d.DelegateTo(ctx, step.Agent, step.Task, stepCtx)
	if err != nil {
		return domain.Fail(step.Agent, err.Error())
	}
	if resp == nil {
		return domain.Fail(step.Agent, "no response produced")
	}
	return resp
}

// applyParams decodes params onto a copy of tc. Known keys such as "mode" or
// "min_area" set the matching field; unknown keys are added to Params.
func applyParams(tc domain.TaskContext, params map[string]any) (domain.TaskContext, error) {
	out := tc.Clone()
	if len(params) == 0 {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return tc, err
	}
	if err := dec.Decode(params); err != nil {
		return tc, domain.NewSubSystemError("workflow", "applyParams", domain.ErrInvalidInput, err.Error())
	}
	return out, nil
}

func generateRunID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
