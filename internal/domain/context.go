package domain

import (
	"image"
	"maps"
)

// Pipeline modes understood by the OCR agent.
const (
	ModeSegmentOnly = "segment_only"
	ModeOCROnly     = "ocr_only"
	ModeFull        = "full"
)

// Task types understood by the orchestrator.
const (
	TaskSingle   = "single"
	TaskBatch    = "batch"
	TaskWorkflow = "workflow"
)

// TaskContext is the request context handed to Agent.Process. Stages read the
// well-known fields they need; anything else travels in Params.
type TaskContext struct {
	TaskType      string         `json:"task_type,omitempty" mapstructure:"task_type"`
	Agent         string         `json:"agent,omitempty" mapstructure:"agent"`
	Workflow      string         `json:"workflow,omitempty" mapstructure:"workflow"`
	Mode          string         `json:"mode,omitempty" mapstructure:"mode"`
	FilterPHI     *bool          `json:"filter_phi,omitempty" mapstructure:"filter_phi"`
	ExtractDrugs  *bool          `json:"extract_drugs,omitempty" mapstructure:"extract_drugs"`
	MinArea       *float64       `json:"min_area,omitempty" mapstructure:"min_area"`
	Method        string         `json:"method,omitempty" mapstructure:"method"`
	Image         image.Image    `json:"-" mapstructure:"image"`
	Regions       []Region       `json:"regions,omitempty" mapstructure:"regions"`
	Masks         []Mask         `json:"masks,omitempty" mapstructure:"masks"`
	Text          string         `json:"text,omitempty" mapstructure:"text"`
	Tasks         []BatchItem    `json:"tasks,omitempty" mapstructure:"tasks"`
	WorkflowSteps []WorkflowStep `json:"workflow_steps,omitempty" mapstructure:"workflow_steps"`
	Params        map[string]any `json:"params,omitempty" mapstructure:",remain"`
}

// BatchItem is one independent task of a batch request.
type BatchItem struct {
	ID      string      `json:"id,omitempty" mapstructure:"id"`
	Task    string      `json:"task" mapstructure:"task"`
	Context TaskContext `json:"context" mapstructure:"context"`
}

// WorkflowStep is one delegation in a workflow. Required defaults to true.
type WorkflowStep struct {
	Agent    string         `json:"agent" yaml:"agent" mapstructure:"agent"`
	Task     string         `json:"task" yaml:"task" mapstructure:"task"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
	Required *bool          `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
}

// IsRequired reports whether a failure of this step halts the workflow.
func (s WorkflowStep) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// BoolOr dereferences p, returning def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Clone returns a copy of tc that can be modified without affecting tc.
// Slices of regions, masks, tasks and steps are shared since stages only
// replace them, never mutate them in place.
func (tc TaskContext) Clone() TaskContext {
	out := tc
	if tc.Params != nil {
		out.Params = maps.Clone(tc.Params)
	}
	return out
}

// Merge folds the outputs of a completed stage into the context so later
// stages see them. Filtering replaces Text with the redacted text.
func (tc *TaskContext) Merge(d *Data) {
	if d == nil {
		return
	}
	if d.Segmentation != nil {
		tc.Regions = d.Segmentation.Regions
		if d.Segmentation.Masks != nil {
			tc.Masks = d.Segmentation.Masks
		}
	}
	if d.TextRecognition != nil {
		tc.Text = d.TextRecognition.Text
	}
	if d.PHIFiltering != nil {
		tc.Text = d.PHIFiltering.RedactedText
	}
}
