// Package upstream defines the Upstream Adapters contract (C6) and the
// per-provider registry; concrete adapters live in internal/upstream/
// providers. Grounded on the teacher's internal/upstream/gemini package
// shape (paths.go's URL-template constants, client_headers.go's header-
// building pattern), generalized from a single Gemini client to a
// registry of seven provider adapters sharing one interface.
package upstream

import (
	"net/http"

	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/credential"
)

// StreamFormat identifies which of C7's three parsers decodes an
// adapter's response body.
type StreamFormat string

const (
	FormatAWSEventStream StreamFormat = "aws-event-stream"
	FormatSSEJSON        StreamFormat = "sse-json"
	FormatJSONLines      StreamFormat = "json-lines"
)

// Request is what an adapter hands back to the gateway for dispatch.
type Request struct {
	URL          string
	Headers      http.Header
	Body         []byte
	StreamFormat StreamFormat
}

// Adapter builds a provider-specific upstream request from a normalized
// one, per §4.5.
type Adapter interface {
	BuildRequest(cred *credential.Credential, req chatmodel.NormalizedRequest, model string) (Request, error)
}

// Registry maps a provider to its adapter.
type Registry struct {
	adapters map[credential.Provider]Adapter
}

// NewRegistry constructs an empty Registry; callers register adapters via
// Register (kept separate from construction so providers remain a plain
// import-time side-effect-free package).
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[credential.Provider]Adapter)}
}

// Register associates an adapter with a provider.
func (r *Registry) Register(provider credential.Provider, adapter Adapter) {
	r.adapters[provider] = adapter
}

// Get returns the adapter for provider, or false if none is registered.
func (r *Registry) Get(provider credential.Provider) (Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}
