package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

// bedrockEndpointTemplate mirrors the Bedrock Converse streaming endpoint,
// {region}/{model} substituted per credential.
const bedrockEndpointTemplate = "https://bedrock-runtime.{region}.amazonaws.com/model/{model}/converse-stream"

// BedrockAdapter sends a near-direct Claude-style body to Bedrock's
// Converse API, with an ARN-scoped bearer and region-templated URL (§4.5).
type BedrockAdapter struct{}

// BuildRequest implements upstream.Adapter.
func (BedrockAdapter) BuildRequest(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	payload, err := json.Marshal(buildClaudeBody(req, model))
	if err != nil {
		return upstream.Request{}, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	region := cred.Region
	if region == "" {
		region = "us-east-1"
	}
	url := strings.ReplaceAll(bedrockEndpointTemplate, "{region}", region)
	url = strings.ReplaceAll(url, "{model}", model)

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+cred.AccessSecret)
	if cred.ProfileARN != "" {
		headers.Set("X-Amz-Bedrock-Profile-Arn", cred.ProfileARN)
	}

	return upstream.Request{
		URL:          url,
		Headers:      headers,
		Body:         payload,
		StreamFormat: upstream.FormatJSONLines,
	}, nil
}
