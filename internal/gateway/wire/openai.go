package wire

import (
	"encoding/json"
	"fmt"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/constants"
)

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type openAIFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

// openAIRequest is the subset of OpenAI's /v1/chat/completions body this
// gateway parses.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
}

// ParseOpenAIRequest parses an OpenAI-style /v1/chat/completions body into
// a NormalizedRequest, folding the "system" role message into
// NormalizedRequest.System the way Claude's API takes it out-of-band.
func ParseOpenAIRequest(body []byte) (chatmodel.NormalizedRequest, error) {
	var raw openAIRequest
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
		MaxTokens: maxTokens,
		Stream:    raw.Stream,
		StopSeqs:  parseOpenAIStop(raw.Stop),
	}
	if raw.Temperature != nil {
		out.Temperature = *raw.Temperature
	}
	if raw.TopP != nil {
		out.TopP = *raw.TopP
	}
	for _, t := range raw.Tools {
		out.Tools = append(out.Tools, chatmodel.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	for i, m := range raw.Messages {
		if m.Role == "system" {
			text, err := openAIContentText(m.Content)
			if err != nil {
				return chatmodel.NormalizedRequest{}, badRequest("message at index %d: %v", i, err)
			}
			if out.System != "" {
				out.System += "\n"
			}
			out.System += text
			continue
		}
		msg, err := parseOpenAIMessage(m)
		if err != nil {
			return chatmodel.NormalizedRequest{}, badRequest("message at index %d: %v", i, err)
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

func parseOpenAIMessage(m openAIMessage) (chatmodel.Message, error) {
	switch m.Role {
	case "user":
		text, err := openAIContentText(m.Content)
		if err != nil {
			return chatmodel.Message{}, err
		}
		return chatmodel.Message{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: text}}}, nil
	case "assistant":
		var blocks []chatmodel.ContentBlock
		if len(m.Content) > 0 {
			text, err := openAIContentText(m.Content)
			if err != nil {
				return chatmodel.Message{}, err
			}
			if text != "" {
				blocks = append(blocks, chatmodel.ContentBlock{Type: chatmodel.BlockText, Text: text})
			}
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, chatmodel.ContentBlock{
				Type:      chatmodel.BlockToolUse,
				ToolUseID: tc.ID,
				ToolName:  tc.Function.Name,
				Input:     json.RawMessage(tc.Function.Arguments),
			})
		}
		return chatmodel.Message{Role: chatmodel.RoleAssistant, Content: blocks}, nil
	case "tool":
		text, err := openAIContentText(m.Content)
		if err != nil {
			return chatmodel.Message{}, err
		}
		return chatmodel.Message{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{
			Type:          chatmodel.BlockToolResult,
			ToolResultFor: m.ToolCallID,
			ToolResult:    text,
		}}}, nil
	default:
		return chatmodel.Message{}, fmt.Errorf("invalid role %q", m.Role)
	}
}

// openAIContentText accepts either a bare content string or OpenAI's
// array of {type:"text",text} parts.
func openAIContentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("content must be a string or array of parts: %w", err)
	}
	out := ""
	for _, p := range parts {
		if p.Type != "text" {
			continue
		}
		out += p.Text
	}
	return out, nil
}

func parseOpenAIStop(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}
