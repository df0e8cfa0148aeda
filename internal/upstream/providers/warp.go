package providers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

const warpEndpoint = "https://app.warp.dev/ai/multi-agent"

// WarpAdapter sends a near-direct Claude-style body to the Warp-hosted
// Claude path, authenticated with a bearer token plus a client-id header
// Warp requires on all agent calls (§4.5).
type WarpAdapter struct{}

// BuildRequest implements upstream.Adapter.
func (WarpAdapter) BuildRequest(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	payload, err := json.Marshal(buildClaudeBody(req, model))
	if err != nil {
		return upstream.Request{}, fmt.Errorf("warp: marshal request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+cred.AccessSecret)
	if cred.ClientID != "" {
		headers.Set("X-Warp-Client-Id", cred.ClientID)
	}

	return upstream.Request{
		URL:          warpEndpoint,
		Headers:      headers,
		Body:         payload,
		StreamFormat: upstream.FormatJSONLines,
	}, nil
}
