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

// vertexClaudeEndpointTemplate and vertexGeminiEndpointTemplate mirror the
// Vertex AI regional publisher-model endpoint shape; {region} and
// {project} substitute from the credential.
const (
	vertexClaudeEndpointTemplate = "https://{region}-aiplatform.googleapis.com/v1/projects/{project}/locations/{region}/publishers/anthropic/models/{model}:streamRawPredict"
	vertexGeminiEndpointTemplate = "https://{region}-aiplatform.googleapis.com/v1/projects/{project}/locations/{region}/publishers/google/models/{model}:streamGenerateContent"
)

// VertexAdapter fronts the Vertex-hosted Claude and Gemini model families
// under one credential (§4.5). By the time BuildRequest runs, C3 has
// already ensured cred.AccessSecret holds a live bearer token minted from
// the credential's signed service-account JWT — this adapter only adds it
// as an Authorization header, it never signs anything itself.
type VertexAdapter struct{}

// BuildRequest implements upstream.Adapter.
func (VertexAdapter) BuildRequest(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	if isGeminiModel(model) {
		return buildVertexGemini(cred, req, model)
	}
	return buildVertexClaude(cred, req, model)
}

func isGeminiModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemini")
}

func buildVertexClaude(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	body, err := buildConversationState(req)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("vertex-claude: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("vertex-claude: marshal request: %w", err)
	}

	url := substituteVertex(vertexClaudeEndpointTemplate, cred, model)

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	headers.Set("Authorization", "Bearer "+cred.AccessSecret)
	headers.Set("User-Agent", "nexusgate-vertex/1.0")

	return upstream.Request{
		URL:          url,
		Headers:      headers,
		Body:         payload,
		StreamFormat: upstream.FormatAWSEventStream,
	}, nil
}

func buildVertexGemini(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	payload, err := buildGeminiBody(req)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("vertex-gemini: %w", err)
	}

	url := substituteVertex(vertexGeminiEndpointTemplate, cred, model)

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	headers.Set("Authorization", "Bearer "+cred.AccessSecret)
	headers.Set("User-Agent", "nexusgate-vertex/1.0")
	if cred.ProjectID != "" {
		headers.Set("X-Goog-User-Project", cred.ProjectID)
	}

	return upstream.Request{
		URL:          url,
		Headers:      headers,
		Body:         payload,
		StreamFormat: upstream.FormatSSEJSON,
	}, nil
}

func substituteVertex(tmpl string, cred *credential.Credential, model string) string {
	region := cred.Region
	if region == "" {
		region = "us-central1"
	}
	out := strings.ReplaceAll(tmpl, "{region}", region)
	out = strings.ReplaceAll(out, "{project}", cred.ProjectID)
	out = strings.ReplaceAll(out, "{model}", model)
	return out
}
