// Package plugin implements the kernel's plug-in lifecycle: installing a
// bundle onto disk, mounting it into the root storage tree, loading its
// type definitions, and tearing all of that down again on unload or
// environment reset.
package plugin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/concordkernel/appserver/internal/kernel/path"
	"github.com/concordkernel/appserver/internal/kernel/storage"
	"github.com/concordkernel/appserver/internal/kernel/types"
)

// EventPublisher is implemented by the kernel's admin event bus.
type EventPublisher interface {
	Publish(eventType string, data map[string]any, source string)
}

// Descriptor is one installed plug-in's static metadata. Install fills
// ID and Priority from its arguments; the bundle's contents are not read
// at install time, so Version stays empty.
type Descriptor struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Priority int    `json:"priority"`
}

// Manager owns the install/load/unload/reset lifecycle for plug-in
// bundles installed into LocalDir. BaseDir is recorded but no bundle is
// read from it.
type Manager struct {
	mu       sync.Mutex
	root     *storage.RootStorage
	types    *types.Registry
	events   EventPublisher
	logger   *slog.Logger
	baseDir  string
	localDir string

	installed map[string]*Descriptor
	loaded    map[string]bool
}

// NewManager returns a Manager that installs bundles into localDir and
// mounts loaded plug-ins into root. baseDir is stored only.
func NewManager(root *storage.RootStorage, registry *types.Registry, events EventPublisher, baseDir, localDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root: root, types: registry, events: events,
		baseDir: baseDir, localDir: localDir, logger: logger,
		installed: make(map[string]*Descriptor),
		loaded:    make(map[string]bool),
	}
}

func pluginRoot(id string) path.Path {
	return path.Parse("/plugin/" + id + "/")
}

// Install copies the bundle at zipFile into LocalDir/<id>.zip, recording
// it as installed but not yet mounted. Overwrites a prior install of the
// same id.
func (m *Manager) Install(ctx context.Context, id string, zipFile string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.localDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	dest := filepath.Join(m.localDir, id+".zip")
	if err := copyFile(zipFile, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	m.installed[id] = &Descriptor{ID: id, Priority: priority}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// Load mounts the installed plug-in id's bundle under "/plugin/<id>/"
// and refreshes the type registry so any "/type/" objects it contributes
// become visible. Returns ErrNotFound if id was never installed, and
// ErrAlreadyLoaded if it is already mounted.
func (m *Manager) Load(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded[id] {
		return ErrAlreadyLoaded
	}
	desc, ok := m.installed[id]
	if !ok {
		return ErrNotFound
	}

	zipPath := filepath.Join(m.localDir, id+".zip")
	backend, err := storage.NewZipStorage(zipPath)
	if err != nil {
		return fmt.Errorf("plugin %s: open bundle: %w", id, err)
	}

	if err := m.root.Mount(pluginRoot(id), backend, true, path.Root, desc.Priority); err != nil {
		_ = backend.Close()
		return fmt.Errorf("plugin %s: mount: %w", id, err)
	}

	if err := types.LoadAll(ctx, m.types, m.root); err != nil {
		m.logger.Warn("plugin load: type registry refresh failed", "plugin", id, "error", err)
	}

	m.loaded[id] = true
	m.publish(pluginEventLoaded, id)
	return nil
}

// Unload unmounts id and removes it from the loaded set. Its
// installation record is kept so a later Load can bring it back.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded[id] {
		return ErrNotLoaded
	}
	if err := m.root.Unmount(pluginRoot(id)); err != nil {
		return fmt.Errorf("plugin %s: unmount: %w", id, err)
	}
	delete(m.loaded, id)
	m.publish(pluginEventUnloaded, id)
	return nil
}

// Reset unloads and reloads every currently loaded plug-in, in
// ascending id order, so a configuration change in one plug-in's
// dependency takes effect across the whole set deterministically.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := m.Unload(ctx, id); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if err := m.Load(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Loaded reports whether id is currently mounted.
func (m *Manager) Loaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded[id]
}

const (
	pluginEventLoaded   = "plugin_loaded"
	pluginEventUnloaded = "plugin_unloaded"
)

func (m *Manager) publish(eventType, id string) {
	if m.events == nil {
		return
	}
	m.events.Publish(eventType, map[string]any{"id": id}, "plugin_manager")
}
