// Package wire converts between the gateway's two external request/response
// shapes (Claude-style /v1/messages, OpenAI-style /v1/chat/completions) and
// chatmodel.NormalizedRequest / translator.Event, so C9's handlers never
// touch either wire format directly. Grounded on the teacher's
// internal/handlers/common.ParseOpenAIRequest family (raw-map parsing,
// ValidationError surfacing) generalized from a single pass-through format
// to two distinct request/response codecs plus the literal SSE framing
// spec §6 requires.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/constants"
)

// ValidationError reports a malformed inbound request, distinct from any
// upstream-originated error so handlers can map it to KindBadRequest.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// claudeContentBlock and claudeMessage mirror the wire shape of Anthropic's
// Messages API — only the fields this gateway reads or writes.
type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type claudeSystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// claudeRequest is the subset of Anthropic's /v1/messages body this
// gateway parses.
type claudeRequest struct {
	Model         string          `json:"model"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []claudeMessage `json:"messages"`
	Tools         []claudeTool    `json:"tools,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
}

// ParseClaudeRequest parses an Anthropic-style /v1/messages body into a
// NormalizedRequest.
func ParseClaudeRequest(body []byte) (chatmodel.NormalizedRequest, error) {
	var raw claudeRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return chatmodel.NormalizedRequest{}, badRequest("invalid json: %v", err)
	}
	if raw.Model == "" {
		return chatmodel.NormalizedRequest{}, badRequest("missing required field: model")
	}
	if len(raw.Messages) == 0 {
		return chatmodel.NormalizedRequest{}, badRequest("messages array cannot be empty")
	}

	maxTokens := raw.MaxTokens
	if maxTokens > constants.MaxOutputTokens {
		maxTokens = constants.MaxOutputTokens
	}

	out := chatmodel.NormalizedRequest{
		Model:     raw.Model,
		System:    parseClaudeSystem(raw.System),
		MaxTokens: maxTokens,
		Stream:    raw.Stream,
		StopSeqs:  raw.StopSequences,
	}
	if raw.Temperature != nil {
		out.Temperature = *raw.Temperature
	}
	if raw.TopP != nil {
		out.TopP = *raw.TopP
	}
	for _, t := range raw.Tools {
		out.Tools = append(out.Tools, chatmodel.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	for i, m := range raw.Messages {
		blocks, err := parseClaudeContent(m.Content)
		if err != nil {
			return chatmodel.NormalizedRequest{}, badRequest("message at index %d: %v", i, err)
		}
		role, err := parseClaudeRole(m.Role)
		if err != nil {
			return chatmodel.NormalizedRequest{}, badRequest("message at index %d: %v", i, err)
		}
		out.Messages = append(out.Messages, chatmodel.Message{Role: role, Content: blocks})
	}
	return out, nil
}

func parseClaudeRole(role string) (chatmodel.Role, error) {
	switch role {
	case "user":
		return chatmodel.RoleUser, nil
	case "assistant":
		return chatmodel.RoleAssistant, nil
	default:
		return "", fmt.Errorf("invalid role %q", role)
	}
}

// parseClaudeSystem accepts either a bare string or Anthropic's array of
// typed system blocks, joining block text with newlines.
func parseClaudeSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []claudeSystemBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			if b.Text == "" {
				continue
			}
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
		return out
	}
	return ""
}

// parseClaudeContent accepts either a bare content string or the array of
// typed content blocks.
func parseClaudeContent(raw json.RawMessage) ([]chatmodel.ContentBlock, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: asString}}, nil
	}
	var blocks []claudeContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or array of blocks: %w", err)
	}
	out := make([]chatmodel.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, chatmodel.ContentBlock{Type: chatmodel.BlockText, Text: b.Text})
		case "tool_use":
			out = append(out, chatmodel.ContentBlock{
				Type:      chatmodel.BlockToolUse,
				ToolUseID: b.ID,
				ToolName:  b.Name,
				Input:     b.Input,
			})
		case "tool_result":
			out = append(out, chatmodel.ContentBlock{
				Type:          chatmodel.BlockToolResult,
				ToolResultFor: b.ToolUseID,
				ToolResult:    toolResultText(b.Content),
				IsError:       b.IsError,
			})
		default:
			return nil, fmt.Errorf("unsupported content block type %q", b.Type)
		}
	}
	return out, nil
}

// toolResultText flattens a tool_result's content, which the API accepts
// as a bare string or an array of {type:"text",text} blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []claudeSystemBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return ""
}
