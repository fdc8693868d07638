// Package models defines the core data types for the TENEX runtime.
package models

import (
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation history.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	EventID    string         `json:"event_id,omitempty"`   // id of the network event this message mirrors
	AgentName  string         `json:"agent_name,omitempty"` // author agent for assistant messages
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResponse is the outcome of executing a single tool call.
// The ToolCallID always echoes the id of the call that produced it.
type ToolResponse struct {
	ToolCallID   string         `json:"tool_call_id"`
	Output       string         `json:"output"`
	RenderInChat map[string]any `json:"render_in_chat,omitempty"`
}

// IsError reports whether the response carries a tool-level failure.
// Tool failures are delivered in-band as "Error: ..." output rather than
// aborting the surrounding assistant turn.
func (r *ToolResponse) IsError() bool {
	return strings.HasPrefix(r.Output, "Error:")
}

// NewSystemMessage returns a system message stamped with the current time.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// NewUserMessage returns a user message stamped with the current time.
func NewUserMessage(content, eventID string) Message {
	return Message{Role: RoleUser, Content: content, EventID: eventID, Timestamp: time.Now()}
}

// NewAssistantMessage returns an assistant message attributed to an agent.
func NewAssistantMessage(agentName, content string, usage *Usage) Message {
	return Message{Role: RoleAssistant, AgentName: agentName, Content: content, Usage: usage, Timestamp: time.Now()}
}

// NewToolMessage returns a tool message answering the given tool call.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: content, Timestamp: time.Now()}
}
