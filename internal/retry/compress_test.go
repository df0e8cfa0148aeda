package retry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
)

func msg(role chatmodel.Role, text string) chatmodel.Message {
	return chatmodel.Message{Role: role, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: text}}}
}

func TestTailCountAndMaxMessageChars(t *testing.T) {
	assert.Equal(t, 6, TailCount(0))
	assert.Equal(t, 4, TailCount(1))
	assert.Equal(t, 2, TailCount(2))
	assert.Equal(t, 2, TailCount(3)) // floored at 2

	assert.Equal(t, 2000, MaxMessageChars(0))
	assert.Equal(t, 1500, MaxMessageChars(1))
	assert.Equal(t, 1000, MaxMessageChars(2))
	assert.Equal(t, 500, MaxMessageChars(3)) // floored at 500
}

func TestCompress_Level1KeepsExcerptsSameCount(t *testing.T) {
	var messages []chatmodel.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, msg(chatmodel.RoleUser, strings.Repeat("x", 300)))
	}

	out := Compress(messages, 1)
	assert.Len(t, out, len(messages))
	// Middle messages got excerpted down to ~160 chars + "...".
	assert.Less(t, len(out[2].Content[0].Text), len(messages[2].Content[0].Text))
}

func TestCompress_Level2CollapsesMiddleIntoStub(t *testing.T) {
	var messages []chatmodel.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, msg(chatmodel.RoleUser, "turn"))
	}

	out := Compress(messages, 2)
	require.Less(t, len(out), len(messages))
	assert.Contains(t, out[1].Content[0].Text, "[history compressed,")
}

func TestCompress_TruncatesOverlongMessages(t *testing.T) {
	long := strings.Repeat("y", 3000)
	messages := []chatmodel.Message{msg(chatmodel.RoleUser, long), msg(chatmodel.RoleAssistant, "short")}

	out := Compress(messages, 0)
	assert.Contains(t, out[0].Content[0].Text, "[truncated, orig=3000]")
	assert.Equal(t, "short", out[1].Content[0].Text)
}

func TestCompress_NoMiddleLeavesMessagesUnchangedStructurally(t *testing.T) {
	messages := []chatmodel.Message{msg(chatmodel.RoleUser, "hi"), msg(chatmodel.RoleAssistant, "hello")}
	out := Compress(messages, 1)
	assert.Len(t, out, 2)
}
