package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackend_AddrAndURL(t *testing.T) {
	b := &Backend{Host: "10.0.0.5", Port: "8080"}
	assert.Equal(t, "10.0.0.5:8080", b.Addr())
	assert.Equal(t, "http://10.0.0.5:8080", b.URL().String())
}

func TestBackend_HealthTransitions(t *testing.T) {
	b := &Backend{Host: "10.0.0.5", Port: "8080"}
	assert.False(t, b.Healthy())

	b.SetHealthy(true)
	assert.True(t, b.Healthy())
	assert.False(t, b.LastCheck().IsZero())

	b.SetHealthy(false)
	assert.False(t, b.Healthy())
}

func TestBackend_Snapshot(t *testing.T) {
	b := &Backend{Host: "10.0.0.5", Port: "8080"}
	b.SetHealthy(true)
	snap := b.Snapshot()
	assert.Equal(t, "10.0.0.5:8080", snap.Addr)
	assert.True(t, snap.Healthy)
	assert.False(t, snap.LastCheck.IsZero())
}
