package balancer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProber_MarksHealthyOnSuccessfulProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	backend := backendFromTestServer(t, srv)
	backend.healthy = false
	pool := NewPool([]*Backend{backend})
	prober := NewProber(pool)

	prober.probeAll(context.Background())
	assert.Eventually(t, func() bool { return backend.Healthy() }, time.Second, 5*time.Millisecond)
}

func TestProber_MarksUnhealthyOnConnectionFailure(t *testing.T) {
	dead := &Backend{Host: "127.0.0.1", Port: "1", healthy: true}
	pool := NewPool([]*Backend{dead})
	prober := NewProber(pool)

	prober.probeAll(context.Background())
	assert.Eventually(t, func() bool { return !dead.Healthy() }, time.Second, 5*time.Millisecond)
}

func TestProber_MarksUnhealthyOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backend := backendFromTestServer(t, srv)
	pool := NewPool([]*Backend{backend})
	prober := NewProber(pool)

	prober.probeAll(context.Background())
	assert.Eventually(t, func() bool { return !backend.Healthy() }, time.Second, 5*time.Millisecond)
}

func TestStartupProbe_SkipsWhenContextAlreadyCancelled(t *testing.T) {
	dead := &Backend{Host: "127.0.0.1", Port: "1", healthy: false}
	pool := NewPool([]*Backend{dead})
	prober := NewProber(pool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		StartupProbe(ctx, prober)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartupProbe did not return promptly when ctx was already cancelled")
	}
	assert.False(t, dead.Healthy())
}
