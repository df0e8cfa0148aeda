package translator

import (
	"encoding/json"
	"strings"

	"github.com/nullstack-gw/nexusgate/internal/constants"
)

// eventStreamPrefixes are the JSON object prefixes the scanner looks for,
// per §4.6 point 1. findNextPrefix takes whichever occurs earliest in the
// buffer; the order of this list does not matter.
var eventStreamPrefixes = []string{
	`{"content":`,
	`{"followupPrompt":`,
	`{"name":`,
	`{"input":`,
	`{"stop":`,
}

// EventStreamScanner is the stateful buffer scanner for the CodeWhisperer
// / Vertex-Claude aws-event-stream framing (§4.6 parser 1). Feed it raw
// chunks via Feed; it locates JSON object prefixes, brace-counts
// (string- and escape-aware) to find the matching close, and drives the
// shared Assembler.
type EventStreamScanner struct {
	asm *Assembler
	buf string
}

// NewEventStreamScanner constructs a scanner emitting through asm.
func NewEventStreamScanner(asm *Assembler) *EventStreamScanner {
	return &EventStreamScanner{asm: asm}
}

// Feed appends chunk to the internal buffer and extracts every complete
// JSON object it can find, leaving any leftover bytes buffered for the
// next call.
func (s *EventStreamScanner) Feed(chunk []byte) {
	s.buf += string(chunk)

	for {
		start, prefix := s.findNextPrefix()
		if start < 0 {
			// Nothing recognizable yet; don't let a runaway upstream stream
			// (or one that never sends a prefix we know) grow this buffer
			// without bound.
			if len(s.buf) > constants.SSEScannerMaxBufferSize {
				s.buf = s.buf[len(s.buf)-constants.SSEScannerInitialBufferSize:]
			}
			return
		}
		end := braceMatchEnd(s.buf, start)
		if end < 0 {
			// Incomplete object; keep everything from start onward for
			// the next Feed call.
			s.buf = s.buf[start:]
			return
		}
		slice := s.buf[start : end+1]
		s.buf = s.buf[end+1:]
		s.handleObject(prefix, slice)
	}
}

func (s *EventStreamScanner) findNextPrefix() (int, string) {
	best := -1
	var bestPrefix string
	for _, p := range eventStreamPrefixes {
		if idx := strings.Index(s.buf, p); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestPrefix = p
		}
	}
	return best, bestPrefix
}

// braceMatchEnd returns the index of the closing brace matching the
// object starting at start, or -1 if the buffer doesn't yet contain it.
// String- and escape-aware so braces inside string literals don't count.
func braceMatchEnd(buf string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

type eventStreamObject struct {
	Content        *string `json:"content"`
	FollowupPrompt any     `json:"followupPrompt"`
	Name           *string `json:"name"`
	ToolUseID      *string `json:"toolUseId"`
	Input          *string `json:"input"`
	Stop           *bool   `json:"stop"`
}

func (s *EventStreamScanner) handleObject(prefix, raw string) {
	var obj eventStreamObject
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return
	}

	switch {
	case prefix == `{"followupPrompt":`:
		// Ignored per §4.6.
		return
	case obj.Content != nil:
		s.asm.Text(*obj.Content)
	case obj.Name != nil && obj.ToolUseID != nil:
		input := ""
		if obj.Input != nil {
			input = *obj.Input
		}
		stop := obj.Stop != nil && *obj.Stop
		s.asm.ToolUse(*obj.ToolUseID, *obj.Name, input, stop)
	case obj.Input != nil:
		// Continuation of the currently open tool call.
		s.asm.ToolUse("", "", *obj.Input, false)
	case obj.Stop != nil && *obj.Stop:
		s.asm.FinalizeToolCall()
	}
}
