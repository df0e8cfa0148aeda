// Package chatmodel holds the normalized, Claude-shaped request/message
// types shared between the gateway server (C9), upstream adapters (C6),
// and the stream translator (C7), so those packages exchange one common
// representation instead of each re-parsing the wire format.
package chatmodel

import "encoding/json"

// Role is a message's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockType identifies the shape of one ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one unit of message content, Claude's content-block
// shape generalized across all three block kinds the gateway handles.
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`

	ToolResultFor string `json:"tool_result_for,omitempty"`
	ToolResult    string `json:"tool_result,omitempty"`
	IsError       bool   `json:"is_error,omitempty"`
}

// Message is one turn in the conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolDefinition is one tool the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// NormalizedRequest is the gateway's internal representation of an inbound
// /v1/messages or /v1/chat/completions call, built by C9 and consumed by
// C6's adapters.
type NormalizedRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stream      bool
	StopSeqs    []string
}

// MergeAdjacentSameRole joins consecutive messages with the same role into
// one, appending the later message's content blocks to the earlier one
// (TextOf then newline-joins their text) — required before CodeWhisperer
// conversationState construction (§4.5) since its history alternates
// strictly user/assistant.
func MergeAdjacentSameRole(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}
	merged := make([]Message, 0, len(messages))
	for _, m := range messages {
		if len(merged) > 0 && merged[len(merged)-1].Role == m.Role {
			last := &merged[len(merged)-1]
			last.Content = append(last.Content, m.Content...)
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// TextOf concatenates every text block in a message, the way adjacent
// same-role turns are flattened into one encoded turn for CodeWhisperer.
func TextOf(m Message) string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}
