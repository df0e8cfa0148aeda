// Package translator implements the Stream Translator (C7): three
// framing-specific parsers that all funnel into one shared tool-call
// assembly state machine and emit a single, ordered sequence of
// normalized events (§4.6). Grounded on the teacher's
// internal/translator package's Format/transform-function split,
// generalized from byte-to-byte rewriting into structured event
// emission since the gateway (C9) now serves two different wire
// protocols off the same normalized stream.
package translator

// EventType identifies one emitted stream event.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventUsage             EventType = "usage"
)

// BlockType identifies a content block's kind within content_block_start.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// Usage carries token counts, synthesized whenever the upstream exposes
// them, whether mid-stream or only at the end (§4.6).
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Event is the normalized unit the gateway's response writer (C9)
// consumes to re-encode into either Claude SSE or OpenAI SSE framing.
type Event struct {
	Type EventType `json:"type"`

	// content_block_start / content_block_stop
	Index     int       `json:"index,omitempty"`
	BlockType BlockType `json:"block_type,omitempty"`
	ToolUseID string    `json:"tool_use_id,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`

	// content_block_delta
	TextDelta  string `json:"text_delta,omitempty"`
	InputDelta string `json:"input_json_delta,omitempty"`

	// content_block_stop (finalized tool_use only)
	ToolInput any `json:"tool_input,omitempty"`

	// message_delta / message_stop
	StopReason string `json:"stop_reason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}
