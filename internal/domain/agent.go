package domain

import "context"

// Names of the agents wired into the default graph.
const (
	AgentOrchestrator    = "OrchestratorAgent"
	AgentOCR             = "OCRAgent"
	AgentSegmentation    = "SegmentationAgent"
	AgentTextRecognition = "TextRecognitionAgent"
	AgentPHIFilter       = "PHIFilterAgent"
	AgentDrugInformation = "DrugInformationAgent"
)

// Agent is the uniform contract every agent implements. Process never returns
// a Go error: failures are reported as a Response with Success=false.
type Agent interface {
	Name() string
	Description() string
	Process(ctx context.Context, task string, tc TaskContext) *Response
}

// CapabilityReporter is implemented by agents that can describe themselves.
type CapabilityReporter interface {
	Capabilities() Capabilities
}

// Capabilities describes an agent's registered tools and sub-agents.
type Capabilities struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
	SubAgents   []string `json:"sub_agents"`
}

// Response is the only value passed between agents. It contains plain data
// only and serializes directly as a transport body.
type Response struct {
	Success   bool           `json:"success"`
	Data      *Data          `json:"data"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	AgentName string         `json:"agent_name"`
	ToolsUsed []string       `json:"tools_used"`
}

// OK builds a successful response.
func OK(agent string, data *Data, toolsUsed []string, metadata map[string]any) *Response {
	if metadata == nil {
		metadata = map[string]any{}
	}
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	return &Response{
		Success:   true,
		Data:      data,
		Metadata:  metadata,
		AgentName: agent,
		ToolsUsed: toolsUsed,
	}
}

// Fail builds a failed response carrying msg as its error.
func Fail(agent, msg string) *Response {
	return &Response{
		Error:     msg,
		Metadata:  map[string]any{},
		AgentName: agent,
		ToolsUsed: []string{},
	}
}

// WithData attaches partial data to a failed response.
func (r *Response) WithData(d *Data) *Response {
	r.Data = d
	return r
}

// Failed reports whether the response is nil or unsuccessful.
func (r *Response) Failed() bool {
	return r == nil || !r.Success
}
