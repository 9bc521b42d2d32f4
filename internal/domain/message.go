package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in an agent's local audit log. Messages are owned by
// the agent that appended them and never shared with other agents.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role, content string, metadata map[string]any) Message {
	return Message{Role: role, Content: content, Metadata: metadata, Timestamp: time.Now()}
}
