package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/constants"
)

func TestParseClaudeRequest_RejectsMissingFields(t *testing.T) {
	_, err := ParseClaudeRequest([]byte(`{}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParseClaudeRequest_ParsesStringSystemAndContent(t *testing.T) {
	req, err := ParseClaudeRequest([]byte(`{
		"model": "claude-3-opus",
		"system": "be terse",
		"max_tokens": 512,
		"messages": [{"role":"user","content":"hi"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "claude-3-opus", req.Model)
	assert.Equal(t, "be terse", req.System)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, chatmodel.RoleUser, req.Messages[0].Role)
	require.Len(t, req.Messages[0].Content, 1)
	assert.Equal(t, "hi", req.Messages[0].Content[0].Text)
}

func TestParseClaudeRequest_ClampsExcessiveMaxTokens(t *testing.T) {
	req, err := ParseClaudeRequest([]byte(`{
		"model": "claude-3-opus",
		"max_tokens": 999999999,
		"messages": [{"role":"user","content":"hi"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, constants.MaxOutputTokens, req.MaxTokens)
}

func TestParseClaudeRequest_ParsesToolUseAndToolResultBlocks(t *testing.T) {
	req, err := ParseClaudeRequest([]byte(`{
		"model": "claude-3-opus",
		"max_tokens": 100,
		"messages": [
			{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"search","input":{"q":"cats"}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"42 results"}]}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, chatmodel.BlockToolUse, req.Messages[0].Content[0].Type)
	assert.Equal(t, "t1", req.Messages[0].Content[0].ToolUseID)
	assert.Equal(t, chatmodel.BlockToolResult, req.Messages[1].Content[0].Type)
	assert.Equal(t, "42 results", req.Messages[1].Content[0].ToolResult)
}

func TestParseClaudeRequest_RejectsInvalidRole(t *testing.T) {
	_, err := ParseClaudeRequest([]byte(`{
		"model": "claude-3-opus",
		"messages": [{"role":"system","content":"hi"}]
	}`))
	require.Error(t, err)
}
