package balancer

import (
	"net/http"
	"net/http/httputil"

	log "github.com/sirupsen/logrus"

	"github.com/nullstack-gw/nexusgate/internal/metrics"
	"github.com/nullstack-gw/nexusgate/internal/netutil"
)

// Proxy is the catch-all reverse-proxy handler fronting the backend pool.
type Proxy struct {
	pool *Pool
}

// NewProxy constructs a Proxy over pool.
func NewProxy(pool *Pool) *Proxy {
	return &Proxy{pool: pool}
}

// ServeHTTP selects a backend for the request's client IP and proxies the
// request to it, marking the backend unhealthy and retrying the next
// healthy candidate on a connection error (§4.9's passive detection).
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := netutil.IPString(netutil.ExtractIPFromRequest(r))

	tried := make(map[string]bool)
	for attempt := 0; attempt < len(p.pool.Backends())+1; attempt++ {
		backend, err := p.pool.Select(clientIP)
		if err != nil {
			http.Error(w, "no backends available", http.StatusBadGateway)
			return
		}
		if tried[backend.Addr()] {
			break
		}
		tried[backend.Addr()] = true

		if p.forward(w, r, backend) {
			return
		}
	}
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

// forward proxies one attempt to backend, returning true if the response
// was successfully written (even if the backend itself returned an error
// status — that's not a transport failure).
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, backend *Backend) bool {
	ok := true
	rp := httputil.NewSingleHostReverseProxy(backend.URL())
	rp.ErrorHandler = func(rw http.ResponseWriter, req *http.Request, err error) {
		ok = false
		backend.SetHealthy(false)
		metrics.BalancerBackendHealthy.WithLabelValues(backend.Addr()).Set(0)
		log.WithError(err).WithField("backend", backend.Addr()).Warn("balancer: passive failure detected, marking unhealthy")
	}
	rp.ServeHTTP(w, r)
	return ok
}
