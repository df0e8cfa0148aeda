package config

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Manager owns the configuration file and serves reads from an in-memory
// snapshot, so request-path reads never touch the disk. The snapshot is
// replaced only by Reload, which runs once in NewManager and, after Watch
// is started, on each change to the file; it is not refreshed on a timer.
type Manager struct {
	path     string
	current  atomic.Pointer[Snapshot]
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	watching bool
	onChange []func(*Snapshot)
}

// NewManager constructs a Manager and performs the initial load.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads the config file (if any), re-applies env overrides, and
// atomically publishes a new Snapshot.
func (m *Manager) Reload() error {
	fc := defaultFileConfig()

	if m.path != "" {
		if data, err := os.ReadFile(m.path); err == nil {
			var fromFile FileConfig
			if err := yaml.Unmarshal(data, &fromFile); err != nil {
				return err
			}
			mergeFileConfig(&fc, &fromFile)
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	applyEnvOverrides(&fc)
	normalize(&fc)

	snap := &Snapshot{File: fc, loadedAt: time.Now()}
	m.current.Store(snap)

	m.mu.Lock()
	hooks := append([]func(*Snapshot){}, m.onChange...)
	m.mu.Unlock()
	for _, h := range hooks {
		h(snap)
	}
	return nil
}

// Snapshot returns the current cached configuration. It never blocks on I/O.
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// OnChange registers a callback invoked after every successful Reload
// (the gateway's composition root uses it to publish TopicConfigUpdated).
func (m *Manager) OnChange(fn func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Watch starts an fsnotify watcher on the config file and reloads on write
// events, debounced the same way the teacher's config_watcher.go does.
func (m *Manager) Watch() error {
	m.mu.Lock()
	if m.watching || m.path == "" {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher
	if err := watcher.Add(m.path); err != nil {
		log.WithError(err).Warn("config watch: failed to watch file, hot reload disabled")
		return nil
	}

	go func() {
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		pending := false
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if !pending {
						pending = true
						debounce.Reset(300 * time.Millisecond)
					}
				}
			case <-debounce.C:
				pending = false
				if err := m.Reload(); err != nil {
					log.WithError(err).Warn("config reload failed")
				} else {
					log.Info("config reloaded from file change")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return nil
}

// Close stops the watcher, if any.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func mergeFileConfig(dst, src *FileConfig) {
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.AdminPort != 0 {
		dst.AdminPort = src.AdminPort
	}
	dst.Debug = src.Debug || dst.Debug
	if src.LogFile != "" {
		dst.LogFile = src.LogFile
	}
	if src.StorageBackend != "" {
		dst.StorageBackend = src.StorageBackend
	}
	if src.StorageDir != "" {
		dst.StorageDir = src.StorageDir
	}
	if src.RedisAddr != "" {
		dst.RedisAddr = src.RedisAddr
	}
	if src.RedisPassword != "" {
		dst.RedisPassword = src.RedisPassword
	}
	if src.RedisDB != 0 {
		dst.RedisDB = src.RedisDB
	}
	if src.PostgresDSN != "" {
		dst.PostgresDSN = src.PostgresDSN
	}
	if (src.DefaultSelection != SelectionConfig{}) {
		dst.DefaultSelection = src.DefaultSelection
	}
	if len(src.ProviderOverrides) > 0 {
		if dst.ProviderOverrides == nil {
			dst.ProviderOverrides = map[string]ProviderOverride{}
		}
		for k, v := range src.ProviderOverrides {
			dst.ProviderOverrides[k] = v
		}
	}
	if len(src.ModelRoutes) > 0 {
		dst.ModelRoutes = src.ModelRoutes
	}
	if len(src.ModelAliases) > 0 {
		dst.ModelAliases = src.ModelAliases
	}
	if src.DefaultProvider != "" {
		dst.DefaultProvider = src.DefaultProvider
	}
	if src.Retry.MaxRetries != 0 {
		dst.Retry = src.Retry
	}
	if src.Background.TokenRefreshIntervalMin != 0 {
		dst.Background = src.Background
	}
	if src.Health.BaselineScore != 0 {
		dst.Health = src.Health
	}
	dst.DisableCredentialLock = src.DisableCredentialLock || dst.DisableCredentialLock
	if len(src.AdminTokens) > 0 {
		dst.AdminTokens = src.AdminTokens
	}
	if src.ConfigCacheTTLSeconds != 0 {
		dst.ConfigCacheTTLSeconds = src.ConfigCacheTTLSeconds
	}
}

func normalize(fc *FileConfig) {
	if fc.ConfigCacheTTLSeconds <= 0 {
		fc.ConfigCacheTTLSeconds = 60
	}
	if fc.ProviderOverrides == nil {
		fc.ProviderOverrides = map[string]ProviderOverride{}
	}
}

// SelectionFor resolves the effective SelectionConfig for a provider,
// falling back to the default when no override is present.
func (s *Snapshot) SelectionFor(provider string) SelectionConfig {
	if ov, ok := s.File.ProviderOverrides[provider]; ok && ov.Selection != nil {
		return *ov.Selection
	}
	return s.File.DefaultSelection
}

// RouteFor resolves an explicit model->provider override, if configured.
func (s *Snapshot) RouteFor(model string) (string, bool) {
	for _, r := range s.File.ModelRoutes {
		if r.Model == model {
			return r.Provider, true
		}
	}
	return "", false
}

// AliasFor resolves a client-facing model name to the upstream model id one
// provider expects, per the operator-configured ModelAlias table. Returns
// false when no override exists for (model, provider), leaving the caller
// to fall back to its built-in mapping (spec §4.5).
func (s *Snapshot) AliasFor(model, provider string) (string, bool) {
	for _, a := range s.File.ModelAliases {
		if a.Model == model && a.Provider == provider {
			return a.UpstreamModel, true
		}
	}
	return "", false
}
