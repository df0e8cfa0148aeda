package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendsFromHosts(t *testing.T) {
	backends := BackendsFromHosts([]string{"10.0.0.1:8080", " 10.0.0.2:8081 ", "", "malformed"})
	require.Len(t, backends, 2)
	assert.Equal(t, "10.0.0.1:8080", backends[0].Addr())
	assert.Equal(t, "10.0.0.2:8081", backends[1].Addr())
	assert.True(t, backends[0].Healthy())
}

func TestLocalRangeBackends(t *testing.T) {
	backends := LocalRangeBackends("127.0.0.1", 9000, 3)
	require.Len(t, backends, 3)
	assert.Equal(t, "127.0.0.1:9000", backends[0].Addr())
	assert.Equal(t, "127.0.0.1:9001", backends[1].Addr())
	assert.Equal(t, "127.0.0.1:9002", backends[2].Addr())
}
