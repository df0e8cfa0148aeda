package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
)

func TestGeminiAdapter_ConvertsRolesAndSystemInstruction(t *testing.T) {
	cred := &credential.Credential{AccessSecret: "tok", ProjectID: "proj-1"}
	req := chatmodel.NormalizedRequest{
		System: "be terse",
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "hi"}}},
			{Role: chatmodel.RoleAssistant, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "hello"}}},
		},
	}

	out, err := GeminiAdapter{}.BuildRequest(cred, req, "gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", out.Headers.Get("X-Goog-User-Project"))

	var body geminiRequestBody
	require.NoError(t, json.Unmarshal(out.Body, &body))
	require.Len(t, body.Contents, 2)
	assert.Equal(t, "user", body.Contents[0].Role)
	assert.Equal(t, "model", body.Contents[1].Role)
	require.NotNil(t, body.SystemInstruction)
	assert.Equal(t, "be terse", body.SystemInstruction.Parts[0].Text)
}

func TestVertexAdapter_DispatchesOnModelFamily(t *testing.T) {
	cred := &credential.Credential{AccessSecret: "tok", ProjectID: "proj-1", Region: "us-central1"}
	req := chatmodel.NormalizedRequest{Messages: []chatmodel.Message{
		{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "hi"}}},
	}}

	claudeOut, err := VertexAdapter{}.BuildRequest(cred, req, "claude-3-5-sonnet-v2@20241022")
	require.NoError(t, err)
	assert.Contains(t, claudeOut.URL, "publishers/anthropic")

	geminiOut, err := VertexAdapter{}.BuildRequest(cred, req, "gemini-1.5-pro-002")
	require.NoError(t, err)
	assert.Contains(t, geminiOut.URL, "publishers/google")
}
