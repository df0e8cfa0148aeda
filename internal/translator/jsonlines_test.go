package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONLinesParser_FullLifecycle(t *testing.T) {
	events := collect(func(emit func(Event)) {
		asm := NewAssembler(emit)
		p := NewJSONLinesParser(asm)
		p.Feed([]byte(`{"type":"message_start"}` + "\n"))
		p.Feed([]byte(`{"type":"content_block_start","content_block":{"type":"text"}}` + "\n"))
		p.Feed([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}` + "\n"))
		p.Feed([]byte(`{"type":"content_block_stop"}` + "\n"))
		p.Feed([]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":3,"output_tokens":1}}` + "\n"))
		p.Feed([]byte(`{"type":"message_stop"}` + "\n"))
	})

	var deltas []string
	var sawStop bool
	for _, e := range events {
		if e.Type == EventContentBlockDelta {
			deltas = append(deltas, e.TextDelta)
		}
		if e.Type == EventMessageStop {
			sawStop = true
		}
	}
	assert.Equal(t, []string{"hi"}, deltas)
	assert.True(t, sawStop)
}

func TestJSONLinesParser_ToolUseLifecycle(t *testing.T) {
	events := collect(func(emit func(Event)) {
		asm := NewAssembler(emit)
		p := NewJSONLinesParser(asm)
		p.Feed([]byte(`{"type":"content_block_start","content_block":{"type":"tool_use","id":"t1","name":"search"}}` + "\n"))
		p.Feed([]byte(`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"q\":1}"}}` + "\n"))
		p.Feed([]byte(`{"type":"content_block_stop"}` + "\n"))
	})

	var toolInput any
	for _, e := range events {
		if e.Type == EventContentBlockStop && e.ToolInput != nil {
			toolInput = e.ToolInput
		}
	}
	assert.Equal(t, map[string]any{"q": float64(1)}, toolInput)
}
