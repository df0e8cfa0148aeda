package wire

import (
	"bytes"
	"encoding/json"

	"github.com/nullstack-gw/nexusgate/internal/translator"
)

// OpenAISSEEncoder renders translator.Events as OpenAI's
// chat.completion.chunk SSE framing, with the trailing "data: [DONE]"
// frame spec §6 requires for OpenAI-style consumers.
type OpenAISSEEncoder struct {
	id      string
	model   string
	created int64

	toolCallIndex map[int]int
	nextToolIdx   int
}

// NewOpenAISSEEncoder constructs an encoder; created is a unix-seconds
// timestamp supplied by the caller (never computed via time.Now inside
// this package, so callers control reproducibility in tests).
func NewOpenAISSEEncoder(id, model string, created int64) *OpenAISSEEncoder {
	return &OpenAISSEEncoder{id: id, model: model, created: created, toolCallIndex: map[int]int{}}
}

// Encode renders one event as zero or more complete SSE frames (most
// events produce exactly one; message_delta produces the chunk carrying
// finish_reason, and message_stop produces only "data: [DONE]").
func (e *OpenAISSEEncoder) Encode(ev translator.Event) []byte {
	var buf bytes.Buffer
	switch ev.Type {
	case translator.EventMessageStart:
		e.writeChunk(&buf, map[string]any{"role": "assistant"}, nil)
	case translator.EventContentBlockStart:
		if ev.BlockType == translator.BlockToolUse {
			idx := e.nextToolIdx
			e.toolCallIndex[ev.Index] = idx
			e.nextToolIdx++
			e.writeChunk(&buf, map[string]any{
				"tool_calls": []any{map[string]any{
					"index": idx,
					"id":    ev.ToolUseID,
					"type":  "function",
					"function": map[string]any{"name": ev.ToolName, "arguments": ""},
				}},
			}, nil)
		}
	case translator.EventContentBlockDelta:
		if ev.InputDelta != "" {
			idx := e.toolCallIndex[ev.Index]
			e.writeChunk(&buf, map[string]any{
				"tool_calls": []any{map[string]any{
					"index":    idx,
					"function": map[string]any{"arguments": ev.InputDelta},
				}},
			}, nil)
		} else if ev.TextDelta != "" {
			e.writeChunk(&buf, map[string]any{"content": ev.TextDelta}, nil)
		}
	case translator.EventMessageDelta:
		reason := openAIFinishReason(ev.StopReason)
		e.writeChunk(&buf, map[string]any{}, &reason)
	case translator.EventMessageStop:
		buf.WriteString("data: [DONE]\n\n")
	}
	return buf.Bytes()
}

func (e *OpenAISSEEncoder) writeChunk(buf *bytes.Buffer, delta map[string]any, finishReason *string) {
	chunk := map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
	data, _ := json.Marshal(chunk)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
}

func openAIFinishReason(claudeReason string) string {
	switch claudeReason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// OpenAIChatCompletion is the non-streaming /v1/chat/completions response
// body, built from an already-accumulated ClaudeMessage so both wire
// formats share one accumulation pass (§4.8 step 7).
type OpenAIChatCompletion struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []openAIChatChoice   `json:"choices"`
	Usage   openAIChatUsage      `json:"usage"`
}

type openAIChatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessageOut `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIMessageOut struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromClaudeMessage converts an accumulated ClaudeMessage into the
// OpenAI-shaped non-streaming response, for requests that came in via
// /v1/chat/completions.
func FromClaudeMessage(id string, created int64, msg ClaudeMessage) OpenAIChatCompletion {
	out := openAIMessageOut{Role: "assistant"}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			out.ToolCalls = append(out.ToolCalls, openAIToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return OpenAIChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   msg.Model,
		Choices: []openAIChatChoice{{
			Index:        0,
			Message:      out,
			FinishReason: openAIFinishReason(msg.StopReason),
		}},
		Usage: openAIChatUsage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}
}
