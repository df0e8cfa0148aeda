package providers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

const orchidsEndpoint = "https://api.orchids.app/v1/messages"

// OrchidsAdapter sends a near-direct Claude-style body to the Orchids
// path, authenticated with a bearer token (§4.5).
type OrchidsAdapter struct{}

// BuildRequest implements upstream.Adapter.
func (OrchidsAdapter) BuildRequest(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (upstream.Request, error) {
	payload, err := json.Marshal(buildClaudeBody(req, model))
	if err != nil {
		return upstream.Request{}, fmt.Errorf("orchids: marshal request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+cred.AccessSecret)

	return upstream.Request{
		URL:          orchidsEndpoint,
		Headers:      headers,
		Body:         payload,
		StreamFormat: upstream.FormatJSONLines,
	}, nil
}
