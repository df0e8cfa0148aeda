package translator

import (
	"encoding/json"
	"strings"
)

// JSONLinesParser implements the third framing (§4.6 parser 3): other SSE
// variants (Anthropic direct, Bedrock, Warp, Orchids), structurally like
// SSEJSONParser but each line is a bare JSON object with no "data:"
// prefix. Reuses the Claude-style event shape (content_block_delta with
// a text/tool delta, message_delta with stop_reason/usage) these
// providers emit near-verbatim.
type JSONLinesParser struct {
	asm *Assembler
	buf string
}

// NewJSONLinesParser constructs a parser emitting through asm.
func NewJSONLinesParser(asm *Assembler) *JSONLinesParser {
	return &JSONLinesParser{asm: asm}
}

type claudeStreamLine struct {
	Type  string `json:"type"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock *struct {
		Type  string `json:"type"`
		ID    string `json:"id"`
		Name  string `json:"name"`
		Text  string `json:"text"`
	} `json:"content_block"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Feed appends chunk to the line buffer and processes every complete
// line it contains.
func (p *JSONLinesParser) Feed(chunk []byte) {
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

func (p *JSONLinesParser) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var msg claudeStreamLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return
	}

	switch msg.Type {
	case "message_start":
		p.asm.Start()
	case "content_block_start":
		if msg.ContentBlock != nil && msg.ContentBlock.Type == "tool_use" {
			p.asm.ToolUse(msg.ContentBlock.ID, msg.ContentBlock.Name, "", false)
		}
	case "content_block_delta":
		if msg.Delta == nil {
			return
		}
		switch msg.Delta.Type {
		case "text_delta":
			p.asm.Text(msg.Delta.Text)
		case "input_json_delta":
			p.asm.ToolUse("", "", msg.Delta.PartialJSON, false)
		}
	case "content_block_stop":
		p.asm.FinalizeToolCall()
	case "message_delta":
		stopReason := ""
		if msg.Delta != nil {
			stopReason = msg.Delta.StopReason
		}
		if msg.Usage != nil {
			p.asm.Usage(msg.Usage.InputTokens, msg.Usage.OutputTokens)
		}
		if stopReason != "" {
			p.asm.Finish(stopReason)
		}
	case "message_stop":
		p.asm.Finish("")
	}
}
