package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

// geminiEndpointTemplate mirrors the Gemini Code Assist (Antigravity)
// internal API path, grounded on the teacher's paths.go PathStreamGenerate
// constant.
const geminiEndpointTemplate = "https://cloudcode-pa.googleapis.com/v1internal:streamGenerate"

// GeminiAdapter fronts the Antigravity access path for Gemini models
// (§4.5). The Vertex-hosted Gemini path shares its payload shape via
// buildGeminiBody but is built by VertexAdapter with different auth/URL.
type GeminiAdapter struct{}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequestBody struct {
	Contents         []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"systemInstruction,omitempty"`
}

// buildGeminiBody converts a normalized Claude-shaped request into Gemini's
// wire format: assistant roles become "model", content becomes
// parts:[{text}], and the system prompt becomes systemInstruction (§4.5).
func buildGeminiBody(req chatmodel.NormalizedRequest) ([]byte, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("request has no messages")
	}

	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == chatmodel.RoleAssistant {
			role = "model"
		}
		text := chatmodel.TextOf(m)
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: text}}})
	}

	body := geminiRequestBody{Contents: contents}
	if req.System != "" {
		body.SystemInstruction = &geminiSystemInstruction{Parts: []geminiPart{{Text: req.System}}}
	}

	return json.Marshal(body)
}

// BuildRequest implements upstream.Adapter.
func (GeminiAdapter) BuildRequest(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	payload, err := buildGeminiBody(req)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("gemini: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	headers.Set("Authorization", "Bearer "+cred.AccessSecret)
	headers.Set("User-Agent", generateGeminiCLIUserAgent())
	headers.Set("X-Goog-Api-Client", "gl-go/"+strings.TrimPrefix(runtime.Version(), "go"))
	headers.Set("Client-Metadata", "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")
	if cred.ProjectID != "" {
		headers.Set("X-Goog-User-Project", cred.ProjectID)
	}

	url := geminiEndpointTemplate + "?$alt=sse"

	return upstream.Request{
		URL:          url,
		Headers:      headers,
		Body:         payload,
		StreamFormat: upstream.FormatSSEJSON,
	}, nil
}

// generateGeminiCLIUserAgent mimics the Gemini CLI client's User-Agent
// fingerprint, the way upstream's own CLI identifies itself.
func generateGeminiCLIUserAgent() string {
	return fmt.Sprintf("gemini-code-assist-cli/1.0.0 (%s; %s) %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}
