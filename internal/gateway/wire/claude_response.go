package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nullstack-gw/nexusgate/internal/translator"
)

// ClaudeSSEEncoder renders translator.Events as Anthropic's SSE framing
// (spec §6): "event: <name>\ndata: {json}\n\n" per event, in arrival
// order. One encoder is used per streamed response.
type ClaudeSSEEncoder struct {
	messageID string
	model     string
}

// NewClaudeSSEEncoder constructs an encoder that stamps messageID/model
// into the message_start event, the only event carrying them.
func NewClaudeSSEEncoder(messageID, model string) *ClaudeSSEEncoder {
	return &ClaudeSSEEncoder{messageID: messageID, model: model}
}

// Encode renders one event as a complete SSE frame, ready to write
// directly to the response body.
func (e *ClaudeSSEEncoder) Encode(ev translator.Event) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", ev.Type)
	payload := e.toClaudeJSON(ev)
	data, _ := json.Marshal(payload)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

func (e *ClaudeSSEEncoder) toClaudeJSON(ev translator.Event) map[string]any {
	switch ev.Type {
	case translator.EventMessageStart:
		return map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            e.messageID,
				"type":          "message",
				"role":          "assistant",
				"model":         e.model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}
	case translator.EventContentBlockStart:
		block := map[string]any{"type": string(ev.BlockType)}
		switch ev.BlockType {
		case translator.BlockText:
			block["text"] = ""
		case translator.BlockToolUse:
			block["id"] = ev.ToolUseID
			block["name"] = ev.ToolName
			block["input"] = map[string]any{}
		}
		return map[string]any{"type": "content_block_start", "index": ev.Index, "content_block": block}
	case translator.EventContentBlockDelta:
		if ev.InputDelta != "" {
			return map[string]any{
				"type": "content_block_delta", "index": ev.Index,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.InputDelta},
			}
		}
		return map[string]any{
			"type": "content_block_delta", "index": ev.Index,
			"delta": map[string]any{"type": "text_delta", "text": ev.TextDelta},
		}
	case translator.EventContentBlockStop:
		return map[string]any{"type": "content_block_stop", "index": ev.Index}
	case translator.EventMessageDelta:
		delta := map[string]any{"stop_reason": claudeStopReason(ev.StopReason), "stop_sequence": nil}
		out := map[string]any{"type": "message_delta", "delta": delta}
		if ev.Usage != nil {
			out["usage"] = map[string]any{"output_tokens": ev.Usage.OutputTokens}
		}
		return out
	case translator.EventMessageStop:
		return map[string]any{"type": "message_stop"}
	case translator.EventUsage:
		return map[string]any{"type": "usage", "usage": map[string]any{
			"input_tokens": ev.Usage.InputTokens, "output_tokens": ev.Usage.OutputTokens,
		}}
	default:
		return map[string]any{"type": string(ev.Type)}
	}
}

func claudeStopReason(reason string) string {
	if reason == "" {
		return "end_turn"
	}
	return reason
}

// ClaudeMessage is the non-streaming /v1/messages response body,
// accumulated from a completed sequence of translator.Events.
type ClaudeMessage struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Role       string              `json:"role"`
	Model      string              `json:"model"`
	Content    []claudeContentOut  `json:"content"`
	StopReason string              `json:"stop_reason"`
	Usage      claudeMessageUsage  `json:"usage"`
}

type claudeContentOut struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

type claudeMessageUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AccumulateClaudeMessage replays a completed event sequence into one
// Claude-style response object, for non-streaming calls (§4.8 step 7).
func AccumulateClaudeMessage(messageID, model string, events []translator.Event) ClaudeMessage {
	msg := ClaudeMessage{ID: messageID, Type: "message", Role: "assistant", Model: model}
	blocks := map[int]*claudeContentOut{}
	var order []int
	textBuf := map[int]*bytes.Buffer{}

	for _, ev := range events {
		switch ev.Type {
		case translator.EventContentBlockStart:
			b := &claudeContentOut{Type: string(ev.BlockType)}
			if ev.BlockType == translator.BlockToolUse {
				b.ID = ev.ToolUseID
				b.Name = ev.ToolName
			}
			blocks[ev.Index] = b
			order = append(order, ev.Index)
			if ev.BlockType == translator.BlockText {
				textBuf[ev.Index] = &bytes.Buffer{}
			}
		case translator.EventContentBlockDelta:
			if buf, ok := textBuf[ev.Index]; ok && ev.TextDelta != "" {
				buf.WriteString(ev.TextDelta)
			}
		case translator.EventContentBlockStop:
			if buf, ok := textBuf[ev.Index]; ok {
				blocks[ev.Index].Text = buf.String()
			}
			if b, ok := blocks[ev.Index]; ok && ev.ToolInput != nil {
				b.Input = ev.ToolInput
			}
		case translator.EventMessageDelta:
			msg.StopReason = claudeStopReason(ev.StopReason)
			if ev.Usage != nil {
				msg.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case translator.EventUsage:
			if ev.Usage != nil {
				msg.Usage.InputTokens = ev.Usage.InputTokens
				if ev.Usage.OutputTokens > 0 {
					msg.Usage.OutputTokens = ev.Usage.OutputTokens
				}
			}
		}
	}
	for _, idx := range order {
		msg.Content = append(msg.Content, *blocks[idx])
	}
	if msg.StopReason == "" {
		msg.StopReason = "end_turn"
	}
	return msg
}
