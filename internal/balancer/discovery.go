package balancer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DiscoveryConfig selects exactly one of the three backend discovery modes
// named in §6's environment-variable table.
type DiscoveryConfig struct {
	ExplicitHosts []string // BACKEND_HOSTS, comma-separated host:port

	DNSName string // BACKEND_DNS
	DNSPort string // BACKEND_PORT

	LocalHost       string // host shared by the expanded local range
	LocalStartPort  int    // BACKEND_START_PORT
	LocalBackendCnt int    // BACKEND_COUNT
}

// BackendsFromHosts builds the fixed backend list for the explicit-host
// mode (BACKEND_HOSTS, comma-separated host:port).
func BackendsFromHosts(hosts []string) []*Backend {
	out := make([]*Backend, 0, len(hosts))
	for _, hp := range hosts {
		hp = strings.TrimSpace(hp)
		if hp == "" {
			continue
		}
		host, port, err := net.SplitHostPort(hp)
		if err != nil {
			log.WithError(err).WithField("addr", hp).Warn("balancer: skipping malformed backend address")
			continue
		}
		out = append(out, &Backend{Host: host, Port: port, healthy: true})
	}
	return out
}

// LocalRangeBackends expands a contiguous local port range into backends
// (BACKEND_START_PORT + BACKEND_COUNT).
func LocalRangeBackends(host string, startPort, count int) []*Backend {
	out := make([]*Backend, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, &Backend{Host: host, Port: strconv.Itoa(startPort + i), healthy: true})
	}
	return out
}

// ResolveDNS performs one A-record lookup for name, pairing every resolved
// IP with port.
func ResolveDNS(ctx context.Context, name, port string) ([]*Backend, error) {
	var resolver net.Resolver
	ips, err := resolver.LookupIPAddr(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("balancer: dns lookup %s: %w", name, err)
	}
	out := make([]*Backend, 0, len(ips))
	for _, ip := range ips {
		out = append(out, &Backend{Host: ip.IP.String(), Port: port, healthy: true})
	}
	return out, nil
}

// WatchDNS re-resolves name every 60s, swapping the pool's backend list
// whenever the member count changes and clearing the IP mapping cache so
// affected clients get re-sticky to the new set (§4.9).
func (p *Pool) WatchDNS(ctx context.Context, name, port string) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			backends, err := ResolveDNS(ctx, name, port)
			if err != nil {
				log.WithError(err).Warn("balancer: dns re-resolution failed, keeping previous backend set")
				continue
			}
			if p.replaceIfCountChanged(backends) {
				log.WithField("count", len(backends)).Info("balancer: backend set changed via dns re-resolution")
			}
		}
	}
}
