package balancer

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nullstack-gw/nexusgate/internal/metrics"
)

// Server is the balancer's own HTTP surface (§6): an aggregate health
// check, an operator status page, a JSON status endpoint, and the
// catch-all proxy for everything else.
type Server struct {
	pool  *Pool
	proxy *Proxy
}

// NewServer constructs a Server over pool.
func NewServer(pool *Pool) *Server {
	return &Server{pool: pool, proxy: NewProxy(pool)}
}

// Handler builds the net/http.Handler for the balancer, routing by exact
// path match before falling through to the reverse proxy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/lb", s.handleStatusPage)
	mux.HandleFunc("/lb/status", s.handleStatusJSON)
	mux.Handle("/", s.proxy)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backends := s.pool.Backends()
	anyHealthy := false
	for _, b := range backends {
		if b.Healthy() {
			anyHealthy = true
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if !anyHealthy && len(backends) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "error"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	backends := s.pool.Backends()
	out := make([]StatusSnapshot, 0, len(backends))
	for _, b := range backends {
		out = append(out, b.Snapshot())
	}
	metrics.BalancerIPMappingSize.Set(float64(s.pool.MappingSize()))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"backends":   out,
		"mappingSize": s.pool.MappingSize(),
	})
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	backends := s.pool.Backends()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintln(w, "<html><head><title>nexusgate balancer</title></head><body>")
	fmt.Fprintln(w, "<h1>Backends</h1><table border='1'><tr><th>Addr</th><th>Healthy</th><th>Last Check</th></tr>")
	for _, b := range backends {
		snap := b.Snapshot()
		status := "down"
		if snap.Healthy {
			status = "up"
		}
		fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>\n", snap.Addr, status, snap.LastCheck.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Fprintln(w, "</table></body></html>")
}
