// Command gateway runs the Gateway Server (C9): the HTTP surface exposing
// /v1/messages and /v1/chat/completions, backed by every other component
// in this module. Grounded on the teacher's cmd/server/main.go composition
// root shape: load config, build storage, build managers, build engine,
// serve with graceful shutdown.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	"github.com/nullstack-gw/nexusgate/internal/background"
	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/constants"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/events"
	"github.com/nullstack-gw/nexusgate/internal/gateway"
	"github.com/nullstack-gw/nexusgate/internal/gateway/router"
	"github.com/nullstack-gw/nexusgate/internal/health"
	"github.com/nullstack-gw/nexusgate/internal/logging"
	"github.com/nullstack-gw/nexusgate/internal/selection"
	"github.com/nullstack-gw/nexusgate/internal/storage"
	"github.com/nullstack-gw/nexusgate/internal/storage/filestore"
	"github.com/nullstack-gw/nexusgate/internal/storage/pgstore"
	"github.com/nullstack-gw/nexusgate/internal/storage/redisstore"
	"github.com/nullstack-gw/nexusgate/internal/token"
	"github.com/nullstack-gw/nexusgate/internal/upstream/providers"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.WithError(err).Fatal("gateway: failed to load configuration")
	}
	snap := cfg.Snapshot()

	if err := logging.Setup(snap); err != nil {
		log.WithError(err).Fatal("gateway: failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub()
	hub.Subscribe(events.TopicConfigUpdated, func(_ context.Context, evt events.Event) {
		log.WithField("at", evt.Timestamp).Info("gateway: configuration reloaded")
	})
	hub.Subscribe(events.TopicCredentialsSynced, func(_ context.Context, evt events.Event) {
		log.WithField("count", evt.Metadata["count"]).Info("gateway: credentials synced from storage")
	})
	cfg.OnChange(func(newSnap *config.Snapshot) {
		hub.Publish(ctx, events.TopicConfigUpdated, newSnap, nil)
	})
	if err := cfg.Watch(); err != nil {
		log.WithError(err).Warn("gateway: failed to start config file watcher")
	}
	defer cfg.Close()

	backend, err := buildStorageBackend(snap)
	if err != nil {
		log.WithError(err).Fatal("gateway: failed to initialize storage backend")
	}
	if err := backend.Initialize(ctx); err != nil {
		log.WithError(err).Fatal("gateway: failed to prepare storage backend")
	}
	defer backend.Close()

	selCfg := config.DefaultSelectionConfig()

	credMgr := credential.NewManager(backend, snap.File.DisableCredentialLock)
	if err := credMgr.Load(ctx); err != nil {
		log.WithError(err).Warn("gateway: failed to load existing credentials")
	} else {
		hub.Publish(ctx, events.TopicCredentialsSynced, nil, map[string]string{
			"count": strconv.Itoa(credMgr.Count()),
		})
	}

	healthMgr := health.NewManager(backend, selCfg.TokenBucketMax, selCfg.TokenRegenPerMinute)
	tokenMgr := token.NewManager(credMgr, selCfg.QuarantineThreshold)
	selEngine := selection.NewEngine(credMgr, healthMgr)
	keyMgr := apikey.NewManager(backend)
	upstreamRegistry := providers.NewRegistry()

	pipeline := gateway.NewPipeline(gateway.Deps{
		Config:      cfg,
		Keys:        keyMgr,
		Credentials: credMgr,
		Tokens:      tokenMgr,
		Health:      healthMgr,
		Selection:   selEngine,
		Upstreams:   upstreamRegistry,
		HTTPClient:  &http.Client{Timeout: 300 * time.Second},
	})

	bg := &background.Runner{
		Config:      cfg,
		Credentials: credMgr,
		Tokens:      tokenMgr,
		Keys:        keyMgr,
	}
	bg.Start(ctx)

	engine := router.Build(router.Deps{
		Config:      cfg,
		Keys:        keyMgr,
		Credentials: credMgr,
		Pipeline:    pipeline,
	})

	addr := ":8080"
	if snap.File.Port != 0 {
		addr = ":" + strconv.Itoa(snap.File.Port)
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  300 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  300 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("gateway: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("gateway: server error")
		}
	}()

	<-ctx.Done()
	log.Info("gateway: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("gateway: graceful shutdown failed")
	}
}

func buildStorageBackend(snap *config.Snapshot) (storage.Backend, error) {
	switch snap.File.StorageBackend {
	case "redis":
		return redisstore.New(snap.File.RedisAddr, snap.File.RedisPassword, snap.File.RedisDB, "nexusgate"), nil
	case "postgres":
		return pgstore.New(snap.File.PostgresDSN), nil
	default:
		dir := snap.File.StorageDir
		if dir == "" {
			dir = "./data"
		}
		return filestore.New(dir), nil
	}
}
