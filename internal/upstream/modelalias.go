package upstream

import (
	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/credential"
)

// builtinModelAliases is the fallback per-provider model-id mapping table
// consulted when no operator-configured ModelAlias matches, per §4.5
// "Model-alias resolution happens before adapter dispatch: the engine
// consults the ModelAlias table first, then a built-in per-provider
// mapping table."
var builtinModelAliases = map[credential.Provider]map[string]string{
	credential.ProviderKiro: {
		"claude-3-5-sonnet-20241022": "CLAUDE_3_5_SONNET_20241022_V2_0",
		"claude-3-7-sonnet-20250219": "CLAUDE_3_7_SONNET_20250219_V1_0",
		"claude-sonnet-4-20250514":   "CLAUDE_SONNET_4_20250514_V1_0",
	},
	credential.ProviderVertex: {
		"claude-3-5-sonnet-20241022": "claude-3-5-sonnet-v2@20241022",
		"claude-3-7-sonnet-20250219": "claude-3-7-sonnet@20250219",
		"gemini-1.5-pro":             "gemini-1.5-pro-002",
		"gemini-2.0-flash":           "gemini-2.0-flash-001",
	},
	credential.ProviderGemini: {
		"gemini-1.5-pro":   "gemini-1.5-pro-latest",
		"gemini-2.0-flash": "gemini-2.0-flash",
	},
	credential.ProviderBedrock: {
		"claude-3-5-sonnet-20241022": "anthropic.claude-3-5-sonnet-20241022-v2:0",
		"claude-3-7-sonnet-20250219": "anthropic.claude-3-7-sonnet-20250219-v1:0",
	},
}

// ResolveModel maps a client-facing model name to the upstream model id a
// provider expects: operator ModelAlias table first, then the built-in
// table, then the client-facing name verbatim (Anthropic-direct/Warp/
// Orchids pass model names straight through).
func ResolveModel(snap *config.Snapshot, provider credential.Provider, clientModel string) string {
	if snap != nil {
		if v, ok := snap.AliasFor(clientModel, string(provider)); ok {
			return v
		}
	}
	if table, ok := builtinModelAliases[provider]; ok {
		if v, ok := table[clientModel]; ok {
			return v
		}
	}
	return clientModel
}

// ResolveProvider implements §4.8 step 3's (model -> provider) resolution
// order: an explicit ModelRoute override first, then the provider named by
// the first matching ModelAlias row, then the operator's configured
// default provider.
func ResolveProvider(snap *config.Snapshot, clientModel string) credential.Provider {
	if snap != nil {
		if provider, ok := snap.RouteFor(clientModel); ok {
			return credential.Provider(provider)
		}
		for _, a := range snap.File.ModelAliases {
			if a.Model == clientModel {
				return credential.Provider(a.Provider)
			}
		}
		if snap.File.DefaultProvider != "" {
			return credential.Provider(snap.File.DefaultProvider)
		}
	}
	return credential.ProviderKiro
}

// KnownClientModels returns the union of client-facing model names this
// gateway has a built-in mapping for, for the /v1/models surface.
func KnownClientModels() []string {
	seen := map[string]bool{}
	var out []string
	for _, table := range builtinModelAliases {
		for clientModel := range table {
			if !seen[clientModel] {
				seen[clientModel] = true
				out = append(out, clientModel)
			}
		}
	}
	return out
}
