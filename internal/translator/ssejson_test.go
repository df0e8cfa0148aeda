package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSSEJSONParser_EmitsTextDeltasAndUsageThenDone(t *testing.T) {
	events := collect(func(emit func(Event)) {
		asm := NewAssembler(emit)
		p := NewSSEJSONParser(asm)
		p.Feed([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi\"}]}}],\"usageMetadata\":{\"promptTokenCount\":5,\"candidatesTokenCount\":2}}\n"))
		p.Feed([]byte("data: [DONE]\n"))
	})

	var sawUsage, sawStop bool
	for _, e := range events {
		if e.Type == EventUsage {
			sawUsage = true
			assert.Equal(t, 5, e.Usage.InputTokens)
		}
		if e.Type == EventMessageStop {
			sawStop = true
		}
	}
	assert.True(t, sawUsage)
	assert.True(t, sawStop)
}

func TestSSEJSONParser_FinishReasonEndsMessage(t *testing.T) {
	events := collect(func(emit func(Event)) {
		asm := NewAssembler(emit)
		p := NewSSEJSONParser(asm)
		p.Feed([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"done\"}]},\"finishReason\":\"STOP\"}]}\n"))
	})

	found := false
	for _, e := range events {
		if e.Type == EventMessageDelta {
			found = true
			assert.Equal(t, "STOP", e.StopReason)
		}
	}
	assert.True(t, found)
}
