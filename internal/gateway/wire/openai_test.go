package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/constants"
)

func TestParseOpenAIRequest_FoldsSystemMessageOut(t *testing.T) {
	req, err := ParseOpenAIRequest([]byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role":"system","content":"be terse"},
			{"role":"user","content":"hi"}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, chatmodel.RoleUser, req.Messages[0].Role)
}

func TestParseOpenAIRequest_ClampsExcessiveMaxTokens(t *testing.T) {
	req, err := ParseOpenAIRequest([]byte(`{
		"model": "gpt-4o",
		"max_tokens": 999999999,
		"messages": [{"role":"user","content":"hi"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, constants.MaxOutputTokens, req.MaxTokens)
}

func TestParseOpenAIRequest_ParsesAssistantToolCalls(t *testing.T) {
	req, err := ParseOpenAIRequest([]byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role":"user","content":"what's the weather"},
			{"role":"assistant","content":null,"tool_calls":[
				{"id":"c1","type":"function","function":{"name":"weather","arguments":"{\"city\":\"nyc\"}"}}
			]},
			{"role":"tool","tool_call_id":"c1","content":"72F and sunny"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, chatmodel.BlockToolUse, req.Messages[1].Content[0].Type)
	assert.Equal(t, "weather", req.Messages[1].Content[0].ToolName)
	assert.Equal(t, chatmodel.BlockToolResult, req.Messages[2].Content[0].Type)
	assert.Equal(t, "c1", req.Messages[2].Content[0].ToolResultFor)
	assert.Equal(t, "72F and sunny", req.Messages[2].Content[0].ToolResult)
}

func TestParseOpenAIRequest_RejectsInvalidRole(t *testing.T) {
	_, err := ParseOpenAIRequest([]byte(`{
		"model": "gpt-4o",
		"messages": [{"role":"bogus","content":"hi"}]
	}`))
	require.Error(t, err)
}

func TestParseOpenAIRequest_StopAcceptsStringOrArray(t *testing.T) {
	req, err := ParseOpenAIRequest([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stop":"END"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"END"}, req.StopSeqs)

	req2, err := ParseOpenAIRequest([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stop":["A","B"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, req2.StopSeqs)
}
