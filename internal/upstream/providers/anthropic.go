package providers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

const anthropicEndpoint = "https://api.anthropic.com/v1/messages"

const anthropicVersion = "2023-06-01"

// claudeRequestBody is the outbound Claude-style wire format the direct,
// Bedrock, Warp, and Orchids adapters all send near-verbatim (§4.5).
type claudeRequestBody struct {
	Model       string                  `json:"model"`
	System      string                  `json:"system,omitempty"`
	Messages    []chatmodel.Message     `json:"messages"`
	Tools       []chatmodel.ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int                     `json:"max_tokens"`
	Temperature float64                 `json:"temperature,omitempty"`
	TopP        float64                 `json:"top_p,omitempty"`
	Stream      bool                    `json:"stream"`
	StopSeqs    []string                `json:"stop_sequences,omitempty"`
}

func buildClaudeBody(req chatmodel.NormalizedRequest, model string) claudeRequestBody {
	return claudeRequestBody{
		Model:       model,
		System:      req.System,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		StopSeqs:    req.StopSeqs,
	}
}

// AnthropicAdapter sends the outbound request to Anthropic's own API
// near-verbatim (§4.5).
type AnthropicAdapter struct{}

// BuildRequest implements upstream.Adapter.
func (AnthropicAdapter) BuildRequest(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	payload, err := json.Marshal(buildClaudeBody(req, model))
	if err != nil {
		return upstream.Request{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("x-api-key", cred.AccessSecret)
	headers.Set("anthropic-version", anthropicVersion)

	return upstream.Request{
		URL:          anthropicEndpoint,
		Headers:      headers,
		Body:         payload,
		StreamFormat: upstream.FormatJSONLines,
	}, nil
}
