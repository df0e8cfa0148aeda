package retry

import (
	"fmt"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
)

// excerptChars bounds a level-1 "short excerpt" summary of one middle
// message (§4.7: "level 1 keeps short excerpts").
const excerptChars = 160

// TailCount returns N = max(2, 6 - 2·level), the number of trailing
// messages the compression ladder always retains in full, per §4.7.
func TailCount(level int) int {
	n := 6 - 2*level
	if n < 2 {
		n = 2
	}
	return n
}

// MaxMessageChars returns max(500, 2000 - 500·level), the per-message
// truncation ceiling for level, per §4.7.
func MaxMessageChars(level int) int {
	n := 2000 - 500*level
	if n < 500 {
		n = 500
	}
	return n
}

// Compress applies one level of the context-compression ladder to
// messages: the first message and the last N are retained verbatim
// (subject to the truncation pass below); the middle run is summarized
// — short excerpts at level 1, a single "[history compressed, M
// messages]" stub at levels 2-3 — then every retained message's text is
// truncated to MaxMessageChars(level), with a "[truncated, orig=K]"
// footer when truncation actually occurred.
func Compress(messages []chatmodel.Message, level int) []chatmodel.Message {
	if len(messages) == 0 {
		return messages
	}

	tail := TailCount(level)
	if len(messages) <= 1+tail {
		return truncateAll(messages, level)
	}

	first := messages[0]
	middle := messages[1 : len(messages)-tail]
	last := messages[len(messages)-tail:]

	out := make([]chatmodel.Message, 0, 2+len(middle)+tail)
	out = append(out, first)

	if level <= 1 {
		for _, m := range middle {
			out = append(out, excerptMessage(m))
		}
	} else {
		out = append(out, stubMessage(len(middle)))
	}

	out = append(out, last...)
	return truncateAll(out, level)
}

func excerptMessage(m chatmodel.Message) chatmodel.Message {
	text := chatmodel.TextOf(m)
	if len(text) > excerptChars {
		text = text[:excerptChars] + "..."
	}
	return chatmodel.Message{Role: m.Role, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: text}}}
}

func stubMessage(count int) chatmodel.Message {
	return chatmodel.Message{
		Role:    chatmodel.RoleUser,
		Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: fmt.Sprintf("[history compressed, %d messages]", count)}},
	}
}

func truncateAll(messages []chatmodel.Message, level int) []chatmodel.Message {
	maxChars := MaxMessageChars(level)
	out := make([]chatmodel.Message, len(messages))
	for i, m := range messages {
		out[i] = truncateMessage(m, maxChars)
	}
	return out
}

func truncateMessage(m chatmodel.Message, maxChars int) chatmodel.Message {
	content := make([]chatmodel.ContentBlock, len(m.Content))
	copy(content, m.Content)
	for i, b := range content {
		if b.Type != chatmodel.BlockText || len(b.Text) <= maxChars {
			continue
		}
		orig := len(b.Text)
		content[i].Text = fmt.Sprintf("%s [truncated, orig=%d]", b.Text[:maxChars], orig)
	}
	return chatmodel.Message{Role: m.Role, Content: content}
}
