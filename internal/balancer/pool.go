package balancer

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// ErrNoBackends is returned when the pool has never had a backend and
// even the static fallback is unavailable.
var ErrNoBackends = errors.New("balancer: no backends configured")

type ipMappingEntry struct {
	backendIndex int
	timestamp    time.Time
}

// Pool holds the live backend set and the client-IP sticky cache described
// in §4.9.
type Pool struct {
	mu       sync.RWMutex
	backends []*Backend

	mapMu      sync.Mutex
	ipMapping  map[string]ipMappingEntry
	mappingTTL time.Duration
}

// NewPool constructs a Pool seeded with backends.
func NewPool(backends []*Backend) *Pool {
	return &Pool{
		backends:   backends,
		ipMapping:  make(map[string]ipMappingEntry),
		mappingTTL: time.Hour,
	}
}

// Backends returns a snapshot of the current backend list.
func (p *Pool) Backends() []*Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Backend, len(p.backends))
	copy(out, p.backends)
	return out
}

// replaceIfCountChanged swaps in a newly discovered backend list if its
// length differs from the current one, clearing the IP mapping cache. It
// returns whether a swap occurred.
func (p *Pool) replaceIfCountChanged(backends []*Backend) bool {
	p.mu.Lock()
	changed := len(backends) != len(p.backends)
	if changed {
		p.backends = backends
	}
	p.mu.Unlock()
	if changed {
		p.mapMu.Lock()
		p.ipMapping = make(map[string]ipMappingEntry)
		p.mapMu.Unlock()
	}
	return changed
}

// healthyIndices returns the indices, into Backends(), of currently
// healthy backends.
func healthyIndices(backends []*Backend) []int {
	idx := make([]int, 0, len(backends))
	for i, b := range backends {
		if b.Healthy() {
			idx = append(idx, i)
		}
	}
	return idx
}

// Select implements §4.9's selection algorithm: reuse a fresh, healthy
// sticky mapping if one exists; otherwise hash the client IP into the
// current healthy set and cache the result; fall back to backends[0] if
// none are healthy.
func (p *Pool) Select(clientIP string) (*Backend, error) {
	backends := p.Backends()
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	if b, ok := p.cachedHealthy(clientIP, backends); ok {
		return b, nil
	}

	healthy := healthyIndices(backends)
	if len(healthy) == 0 {
		return backends[0], nil
	}

	h := hashIP(clientIP)
	chosen := healthy[int(h%uint32(len(healthy)))]
	p.storeMapping(clientIP, chosen)
	return backends[chosen], nil
}

func (p *Pool) cachedHealthy(clientIP string, backends []*Backend) (*Backend, bool) {
	p.mapMu.Lock()
	entry, ok := p.ipMapping[clientIP]
	if ok && time.Since(entry.timestamp) > p.mappingTTL {
		delete(p.ipMapping, clientIP)
		ok = false
	}
	p.mapMu.Unlock()
	if !ok || entry.backendIndex >= len(backends) {
		return nil, false
	}
	b := backends[entry.backendIndex]
	if !b.Healthy() {
		return nil, false
	}
	return b, true
}

func (p *Pool) storeMapping(clientIP string, backendIndex int) {
	p.mapMu.Lock()
	p.ipMapping[clientIP] = ipMappingEntry{backendIndex: backendIndex, timestamp: time.Now()}
	p.mapMu.Unlock()
}

// MappingSize reports how many client IPs currently hold a sticky
// mapping, for metrics.
func (p *Pool) MappingSize() int {
	p.mapMu.Lock()
	defer p.mapMu.Unlock()
	return len(p.ipMapping)
}

// hashIP computes md5(clientIP), taking the first 32 bits as an unsigned
// integer, per §4.9.
func hashIP(clientIP string) uint32 {
	sum := md5.Sum([]byte(clientIP))
	return binary.BigEndian.Uint32(sum[:4])
}

// GCMappings sweeps entries older than the mapping TTL every interval
// until ctx is cancelled.
func (p *Pool) GCMappings(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mapMu.Lock()
			now := time.Now()
			for ip, entry := range p.ipMapping {
				if now.Sub(entry.timestamp) > p.mappingTTL {
					delete(p.ipMapping, ip)
				}
			}
			p.mapMu.Unlock()
		}
	}
}
