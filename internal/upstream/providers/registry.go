package providers

import (
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

// NewRegistry builds an upstream.Registry with every provider adapter
// wired in, the composition root C9 calls at startup.
func NewRegistry() *upstream.Registry {
	r := upstream.NewRegistry()
	r.Register(credential.ProviderKiro, KiroAdapter{})
	r.Register(credential.ProviderVertex, VertexAdapter{})
	r.Register(credential.ProviderGemini, GeminiAdapter{})
	r.Register(credential.ProviderAnthropic, AnthropicAdapter{})
	r.Register(credential.ProviderBedrock, BedrockAdapter{})
	r.Register(credential.ProviderWarp, WarpAdapter{})
	r.Register(credential.ProviderOrchids, OrchidsAdapter{})
	return r
}
