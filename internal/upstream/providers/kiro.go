// Package providers holds the concrete per-provider Adapter
// implementations (§4.5), grounded on the teacher's internal/upstream/
// gemini package (paths.go's URL-template constants, client_headers.go's
// applyDefaultHeaders shape) generalized across seven providers.
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

// cwEndpointTemplate mirrors the CodeWhisperer regional endpoint shape;
// {region} substitutes from the credential, defaulting to us-east-1.
const cwEndpointTemplate = "https://codewhisperer.{region}.amazonaws.com/generateAssistantResponse"

// KiroAdapter builds CodeWhisperer conversationState requests for the
// Claude-via-CodeWhisperer path (§4.5).
type KiroAdapter struct{}

type cwToolSpec struct {
	ToolSpecification cwToolSpecification `json:"toolSpecification"`
}

type cwToolSpecification struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type cwUserInputMessageContext struct {
	Tools []cwToolSpec `json:"tools,omitempty"`
}

type cwUserInputMessage struct {
	Content string                     `json:"content"`
	Context *cwUserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

type cwAssistantResponseMessage struct {
	Content string `json:"content"`
}

type cwHistoryEntry struct {
	UserInputMessage        *cwUserInputMessage        `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *cwAssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

type cwConversationState struct {
	ChatTriggerType string           `json:"chatTriggerType"`
	ConversationID  string           `json:"conversationId"`
	History         []cwHistoryEntry `json:"history"`
	CurrentMessage  cwHistoryEntry   `json:"currentMessage"`
}

type cwRequestBody struct {
	ConversationState cwConversationState `json:"conversationState"`
}

// buildConversationState builds the shared conversationState tree used by
// both Claude-via-CodeWhisperer and Vertex-Claude: adjacent same-role
// messages merged, the leading system prompt folded into the first user
// turn, and tool definitions attached to the final (current) turn.
func buildConversationState(req chatmodel.NormalizedRequest) (cwRequestBody, error) {
	merged := chatmodel.MergeAdjacentSameRole(req.Messages)
	if len(merged) == 0 {
		return cwRequestBody{}, fmt.Errorf("request has no messages")
	}

	firstText := chatmodel.TextOf(merged[0])
	if req.System != "" && merged[0].Role == chatmodel.RoleUser {
		firstText = req.System + "\n\n" + firstText
	}

	var tools []cwToolSpec
	for _, t := range req.Tools {
		tools = append(tools, cwToolSpec{ToolSpecification: cwToolSpecification{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}})
	}

	history := make([]cwHistoryEntry, 0, len(merged)-1)
	var current cwHistoryEntry

	for i, m := range merged {
		text := chatmodel.TextOf(m)
		if i == 0 {
			text = firstText
		}
		var entry cwHistoryEntry
		switch m.Role {
		case chatmodel.RoleAssistant:
			entry = cwHistoryEntry{AssistantResponseMessage: &cwAssistantResponseMessage{Content: text}}
		default: // user (and any stray system turn collapses to user)
			uim := &cwUserInputMessage{Content: text}
			if i == len(merged)-1 && len(tools) > 0 {
				uim.Context = &cwUserInputMessageContext{Tools: tools}
			}
			entry = cwHistoryEntry{UserInputMessage: uim}
		}

		if i == len(merged)-1 {
			current = entry
		} else {
			history = append(history, entry)
		}
	}

	return cwRequestBody{
		ConversationState: cwConversationState{
			ChatTriggerType: "MANUAL",
			ConversationID:  uuid.NewString(),
			History:         history,
			CurrentMessage:  current,
		},
	}, nil
}

// BuildRequest implements upstream.Adapter.
func (KiroAdapter) BuildRequest(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	body, err := buildConversationState(req)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("kiro: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("kiro: marshal request: %w", err)
	}

	region := cred.Region
	if region == "" {
		region = "us-east-1"
	}
	url := strings.ReplaceAll(cwEndpointTemplate, "{region}", region)

	headers := http.Header{}
	headers.Set("Content-Type", "application/x-amz-json-1.1")
	headers.Set("Accept", "application/json")
	headers.Set("Authorization", "Bearer "+cred.AccessSecret)
	headers.Set("User-Agent", "nexusgate-kiro/1.0")

	return upstream.Request{
		URL:          url,
		Headers:      headers,
		Body:         payload,
		StreamFormat: upstream.FormatAWSEventStream,
	}, nil
}
