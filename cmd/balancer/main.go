// Command balancer runs the Consistent-Hash Balancer (C10) standalone,
// fronting N gateway instances discovered via exactly one of the three
// modes named in spec §6's environment-variable table.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nullstack-gw/nexusgate/internal/balancer"
	"github.com/nullstack-gw/nexusgate/internal/constants"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, watchDNS := resolveInitialBackends(ctx)
	if len(backends) == 0 {
		log.Fatal("balancer: no backends resolved from BACKEND_HOSTS, BACKEND_DNS, or local expansion")
	}

	pool := balancer.NewPool(backends)
	go pool.GCMappings(ctx, constants.CacheCleanupInterval)

	if watchDNS != nil {
		go watchDNS(pool)
	}

	prober := balancer.NewProber(pool)
	go balancer.StartupProbe(ctx, prober)
	go prober.Run(ctx)

	port := os.Getenv("BALANCER_PORT")
	if port == "" {
		port = "9090"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      balancer.NewServer(pool).Handler(),
		ReadTimeout:  300 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("balancer: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("balancer: server error")
		}
	}()

	<-ctx.Done()
	log.Info("balancer: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// resolveInitialBackends picks exactly one discovery mode from the
// environment, per spec §6, returning the initial backend list and,
// for DNS mode, a watcher to launch for periodic re-resolution.
func resolveInitialBackends(ctx context.Context) ([]*balancer.Backend, func(*balancer.Pool)) {
	if hosts := os.Getenv("BACKEND_HOSTS"); strings.TrimSpace(hosts) != "" {
		return balancer.BackendsFromHosts(strings.Split(hosts, ",")), nil
	}

	if dnsName := os.Getenv("BACKEND_DNS"); strings.TrimSpace(dnsName) != "" {
		port := os.Getenv("BACKEND_PORT")
		if port == "" {
			port = "8080"
		}
		initial, err := balancer.ResolveDNS(ctx, dnsName, port)
		if err != nil {
			log.WithError(err).Fatal("balancer: initial dns resolution failed")
		}
		watch := func(pool *balancer.Pool) {
			pool.WatchDNS(ctx, dnsName, port)
		}
		return initial, watch
	}

	startPort, _ := strconv.Atoi(os.Getenv("BACKEND_START_PORT"))
	count, _ := strconv.Atoi(os.Getenv("BACKEND_COUNT"))
	if startPort > 0 && count > 0 {
		return balancer.LocalRangeBackends("127.0.0.1", startPort, count), nil
	}

	return nil, nil
}
