package translator

import (
	"encoding/json"
	"strings"
)

// SSEJSONParser implements the Gemini SSE-JSON framing (§4.6 parser 2):
// lines accumulated until "\n", each "data:" payload parsed as JSON,
// "[DONE]" ends the stream.
type SSEJSONParser struct {
	asm *Assembler
	buf string
}

// NewSSEJSONParser constructs a parser emitting through asm.
func NewSSEJSONParser(asm *Assembler) *SSEJSONParser {
	return &SSEJSONParser{asm: asm}
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Feed appends chunk to the line buffer and processes every complete
// line it contains.
func (p *SSEJSONParser) Feed(chunk []byte) {
	p.buf += string(chunk)
	for {
		idx := strings.IndexByte(p.buf, '\n')
		if idx < 0 {
			return
		}
		line := strings.TrimRight(p.buf[:idx], "\r")
		p.buf = p.buf[idx+1:]
		p.handleLine(line)
	}
}

func (p *SSEJSONParser) handleLine(line string) {
	if !strings.HasPrefix(line, "data:") {
		return
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return
	}
	if payload == "[DONE]" {
		p.asm.Finish("stop")
		return
	}

	var chunk geminiStreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return
	}

	stopReason := ""
	for _, c := range chunk.Candidates {
		for _, part := range c.Content.Parts {
			p.asm.Text(part.Text)
		}
		if c.FinishReason != "" {
			stopReason = c.FinishReason
		}
	}
	if chunk.UsageMetadata != nil {
		p.asm.Usage(chunk.UsageMetadata.PromptTokenCount, chunk.UsageMetadata.CandidatesTokenCount)
	}
	if stopReason != "" {
		p.asm.Finish(stopReason)
	}
}
