package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
)

func TestKiroAdapter_MergesSystemIntoFirstUserMessageAndAlternatesHistory(t *testing.T) {
	cred := &credential.Credential{AccessSecret: "tok", Region: "us-west-2"}
	req := chatmodel.NormalizedRequest{
		System: "be concise",
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "hi"}}},
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "there"}}},
			{Role: chatmodel.RoleAssistant, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "hello"}}},
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "how are you"}}},
		},
	}

	out, err := KiroAdapter{}.BuildRequest(cred, req, "claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	assert.Contains(t, out.URL, "us-west-2")
	assert.Equal(t, "Bearer tok", out.Headers.Get("Authorization"))

	var body cwRequestBody
	require.NoError(t, json.Unmarshal(out.Body, &body))
	assert.Equal(t, "MANUAL", body.ConversationState.ChatTriggerType)
	assert.NotEmpty(t, body.ConversationState.ConversationID)
	require.Len(t, body.ConversationState.History, 1)
	assert.Contains(t, body.ConversationState.History[0].UserInputMessage.Content, "be concise")
	assert.Contains(t, body.ConversationState.History[0].UserInputMessage.Content, "hi\nthere")
	require.NotNil(t, body.ConversationState.CurrentMessage.UserInputMessage)
	assert.Equal(t, "how are you", body.ConversationState.CurrentMessage.UserInputMessage.Content)
}

func TestKiroAdapter_AttachesToolsToCurrentTurn(t *testing.T) {
	cred := &credential.Credential{AccessSecret: "tok"}
	req := chatmodel.NormalizedRequest{
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "use a tool"}}},
		},
		Tools: []chatmodel.ToolDefinition{{Name: "search", Description: "web search"}},
	}

	out, err := KiroAdapter{}.BuildRequest(cred, req, "claude-3-5-sonnet-20241022")
	require.NoError(t, err)

	var body cwRequestBody
	require.NoError(t, json.Unmarshal(out.Body, &body))
	require.NotNil(t, body.ConversationState.CurrentMessage.UserInputMessage.Context)
	require.Len(t, body.ConversationState.CurrentMessage.UserInputMessage.Context.Tools, 1)
	assert.Equal(t, "search", body.ConversationState.CurrentMessage.UserInputMessage.Context.Tools[0].ToolSpecification.Name)
}

func TestKiroAdapter_RejectsEmptyMessages(t *testing.T) {
	_, err := KiroAdapter{}.BuildRequest(&credential.Credential{}, chatmodel.NormalizedRequest{}, "m")
	assert.Error(t, err)
}
