package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/credential"
)

func TestResolveModel_PrefersOperatorAliasOverBuiltin(t *testing.T) {
	snap := &config.Snapshot{File: config.FileConfig{ModelAliases: []config.ModelAlias{
		{Model: "claude-3-5-sonnet-20241022", Provider: "kiro", UpstreamModel: "CUSTOM_OVERRIDE"},
	}}}
	got := ResolveModel(snap, credential.ProviderKiro, "claude-3-5-sonnet-20241022")
	assert.Equal(t, "CUSTOM_OVERRIDE", got)
}

func TestResolveModel_FallsBackToBuiltinTable(t *testing.T) {
	snap := &config.Snapshot{}
	got := ResolveModel(snap, credential.ProviderKiro, "claude-3-5-sonnet-20241022")
	assert.Equal(t, "CLAUDE_3_5_SONNET_20241022_V2_0", got)
}

func TestResolveModel_PassesThroughUnknownModel(t *testing.T) {
	got := ResolveModel(nil, credential.ProviderAnthropic, "claude-3-5-sonnet-20241022")
	assert.Equal(t, "claude-3-5-sonnet-20241022", got)
}
