package translator

import "encoding/json"

// Assembler is the shared tool-call assembly state machine all three
// framing parsers emit through (§4.6 "Tool-call assembly state machine
// (shared across parsers)"). It owns content-block indexing and the
// message_start/message_stop bracketing so no individual parser has to
// reimplement that bookkeeping.
type Assembler struct {
	emit func(Event)

	started bool
	stopped bool

	textOpen     bool
	textIndex    int
	lastTextDelta string

	toolOpen     bool
	toolIndex    int
	toolUseID    string
	toolName     string
	toolInputBuf string

	nextIndex int

	inputTokens  int
	outputTokens int
	haveUsage    bool
}

// NewAssembler constructs an Assembler that calls emit for every event it
// produces, in causal order.
func NewAssembler(emit func(Event)) *Assembler {
	return &Assembler{emit: emit}
}

// Start emits message_start exactly once, idempotently.
func (a *Assembler) Start() {
	if a.started {
		return
	}
	a.started = true
	a.emit(Event{Type: EventMessageStart})
}

// Text appends a text delta, suppressing an exact-duplicate consecutive
// delta the way CodeWhisperer's scanner does (§4.6 point 1).
func (a *Assembler) Text(delta string) {
	if delta == "" {
		return
	}
	a.Start()
	if a.textOpen && delta == a.lastTextDelta {
		return
	}
	a.closeToolIfOpen()
	if !a.textOpen {
		a.textIndex = a.nextIndex
		a.nextIndex++
		a.textOpen = true
		a.emit(Event{Type: EventContentBlockStart, Index: a.textIndex, BlockType: BlockText})
	}
	a.lastTextDelta = delta
	a.emit(Event{Type: EventContentBlockDelta, Index: a.textIndex, TextDelta: delta})
}

// ToolUse opens or continues a tool call. A differing toolUseID finalizes
// whatever tool call is currently open before opening the new one; a
// matching id appends inputFragment to the open call's buffer. stop
// finalizes immediately after applying this fragment.
func (a *Assembler) ToolUse(toolUseID, name, inputFragment string, stop bool) {
	a.Start()
	if a.toolOpen && toolUseID != "" && toolUseID != a.toolUseID {
		a.FinalizeToolCall()
	}
	if !a.toolOpen {
		a.closeTextIfOpen()
		a.toolOpen = true
		a.toolIndex = a.nextIndex
		a.nextIndex++
		a.toolUseID = toolUseID
		a.toolName = name
		a.toolInputBuf = ""
		a.emit(Event{Type: EventContentBlockStart, Index: a.toolIndex, BlockType: BlockToolUse, ToolUseID: toolUseID, ToolName: name})
	}
	if inputFragment != "" {
		a.toolInputBuf += inputFragment
		a.emit(Event{Type: EventContentBlockDelta, Index: a.toolIndex, InputDelta: inputFragment})
	}
	if stop {
		a.FinalizeToolCall()
	}
}

// FinalizeToolCall closes the currently open tool call, if any, attempting
// to JSON-decode its accumulated input buffer and falling back to the raw
// string on failure (§4.6).
func (a *Assembler) FinalizeToolCall() {
	if !a.toolOpen {
		return
	}
	var parsed any
	if err := json.Unmarshal([]byte(a.toolInputBuf), &parsed); err != nil {
		parsed = a.toolInputBuf
	}
	a.emit(Event{Type: EventContentBlockStop, Index: a.toolIndex, ToolInput: parsed})
	a.toolOpen = false
	a.toolUseID = ""
	a.toolName = ""
	a.toolInputBuf = ""
}

func (a *Assembler) closeTextIfOpen() {
	if !a.textOpen {
		return
	}
	a.emit(Event{Type: EventContentBlockStop, Index: a.textIndex})
	a.textOpen = false
	a.lastTextDelta = ""
}

func (a *Assembler) closeToolIfOpen() {
	if a.toolOpen {
		a.FinalizeToolCall()
	}
}

// Usage records a mid-stream or final token count, synthesizing a usage
// event immediately.
func (a *Assembler) Usage(inputTokens, outputTokens int) {
	a.haveUsage = true
	a.inputTokens = inputTokens
	a.outputTokens = outputTokens
	a.emit(Event{Type: EventUsage, Usage: &Usage{InputTokens: inputTokens, OutputTokens: outputTokens}})
}

// Finish closes any still-open blocks (an unfinalized tool call at stream
// end is finalized implicitly, per §4.6) and emits message_delta +
// message_stop exactly once.
func (a *Assembler) Finish(stopReason string) {
	if a.stopped {
		return
	}
	a.Start()
	a.closeTextIfOpen()
	a.closeToolIfOpen()

	var usage *Usage
	if a.haveUsage {
		usage = &Usage{InputTokens: a.inputTokens, OutputTokens: a.outputTokens}
	}
	a.emit(Event{Type: EventMessageDelta, StopReason: stopReason, Usage: usage})
	a.emit(Event{Type: EventMessageStop})
	a.stopped = true
}
