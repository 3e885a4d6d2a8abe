package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Status is a snapshot of the Manager's reload bookkeeping, exposed for
// an admin diagnostics endpoint.
type Status struct {
	Path        string
	Checksum    string
	LoadedAt    time.Time
	ReloadCount int64
}

// Manager handles configuration loading and hot-reload. It uses atomic
// pointer swaps to ensure thread-safe config updates, matching the
// teacher's internal/config.Manager.
type Manager struct {
	config      atomic.Pointer[Config]
	path        string
	watcher     *fsnotify.Watcher
	onChange    []func(*Config)
	logger      *slog.Logger
	checksum    atomic.Pointer[string]
	loadedAt    atomic.Pointer[time.Time]
	reloadCount atomic.Int64
}

// NewManager creates a new configuration manager, loading path immediately.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{path: path, logger: logger}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	cfg, err := LoadFromFile(m.path)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	m.config.Store(cfg)
	m.checksum.Store(&checksum)
	now := time.Now()
	m.loadedAt.Store(&now)
	m.reloadCount.Add(1)
	return nil
}

// Get returns the current configuration. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status reports the manager's current load bookkeeping.
func (m *Manager) Status() Status {
	var checksum string
	if c := m.checksum.Load(); c != nil {
		checksum = *c
	}
	var loadedAt time.Time
	if t := m.loadedAt.Load(); t != nil {
		loadedAt = *t
	}
	return Status{
		Path:        m.path,
		Checksum:    checksum,
		LoadedAt:    loadedAt,
		ReloadCount: m.reloadCount.Load(),
	}
}

// Reload re-reads the config file and swaps it in if it parses and
// validates cleanly, notifying registered OnChange callbacks.
func (m *Manager) Reload() error {
	before := m.config.Load()
	if err := m.load(); err != nil {
		if m.logger != nil {
			m.logger.Error("config: reload failed, keeping current", "error", err)
		}
		return err
	}
	after := m.config.Load()
	if after != before {
		for _, fn := range m.onChange {
			fn(after)
		}
	}
	return nil
}

// OnChange registers a callback invoked after a successful Reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Watch starts watching the configuration file for changes, debouncing
// rapid writes into a single reload (spec §9 does not require hot-reload,
// but the teacher's deployments run with config mounted from a ConfigMap
// that mutates in place, so this is carried over unchanged in spirit).
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					_ = m.Reload()
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			if m.logger != nil {
				m.logger.Error("config: watcher error", "error", err)
			}
		}
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
