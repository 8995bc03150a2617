package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

// mount describes one backend mounted under a storage path, together
// with the overlay priority used to resolve conflicting objects between
// mounts whose paths overlap.
type mount struct {
	storagePath path.Path
	backend     Storage
	readOnly    bool
	overlayPath path.Path
	priority    int
}

// RootStorage is the process-wide mount table: every object access is
// routed to the mount whose storagePath prefixes the requested path with
// the most segments, and among those to the highest-priority one. All mutation of the table itself (mount/remount/
// unmount) is serialized by a single writer lock, matching the "root
// storage owns one lock" discipline described for the plug-in manager.
type RootStorage struct {
	mu     sync.RWMutex
	mounts []*mount
}

// NewRootStorage returns an empty mount table.
func NewRootStorage() *RootStorage {
	return &RootStorage{}
}

// Mount adds backend under storagePath with the given priority. Higher
// priority wins among equally specific paths; ties keep mount order, so
// the earlier mount wins. overlayPath, when non-root, makes objects stored here shadow
// the path as-if it were rooted at overlayPath instead of storagePath.
func (r *RootStorage) Mount(storagePath path.Path, backend Storage, readOnly bool, overlayPath path.Path, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.mounts {
		if m.storagePath.Equal(storagePath) {
			return ErrMountConflict
		}
	}
	r.mounts = append(r.mounts, &mount{
		storagePath: storagePath,
		backend:     backend,
		readOnly:    readOnly,
		overlayPath: overlayPath,
		priority:    priority,
	})
	r.sortLocked()
	return nil
}

// Remount replaces the backend at storagePath in place, preserving its
// position's semantics (spec.md's "remount" operation: re-plug a backend
// without disturbing sibling mounts). The old backend is closed.
func (r *RootStorage) Remount(storagePath path.Path, backend Storage, readOnly bool, overlayPath path.Path, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.mounts {
		if m.storagePath.Equal(storagePath) {
			old := m.backend
			m.backend = backend
			m.readOnly = readOnly
			m.overlayPath = overlayPath
			m.priority = priority
			r.sortLocked()
			return old.Close()
		}
	}
	return ErrMountNotFound
}

// Unmount removes and closes the backend mounted at storagePath.
func (r *RootStorage) Unmount(storagePath path.Path) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.mounts {
		if m.storagePath.Equal(storagePath) {
			r.mounts = append(r.mounts[:i], r.mounts[i+1:]...)
			return m.backend.Close()
		}
	}
	return ErrMountNotFound
}

// sortLocked orders mounts by descending storagePath specificity, then
// descending priority, so lookups can stop at the first match.
func (r *RootStorage) sortLocked() {
	sort.SliceStable(r.mounts, func(i, j int) bool {
		a, b := r.mounts[i], r.mounts[j]
		if la, lb := len(a.storagePath.Segments()), len(b.storagePath.Segments()); la != lb {
			return la > lb
		}
		return a.priority > b.priority
	})
}

// resolve finds the mount owning p and the path relative to that mount.
func (r *RootStorage) resolve(p path.Path) (*mount, path.Path, bool) {
	for _, m := range r.mounts {
		if m.storagePath.HasPrefix(p) || m.storagePath.IsRoot() {
			rel := stripPrefix(p, m.storagePath)
			if !m.overlayPath.IsRoot() {
				rel = joinOverlay(m.overlayPath, rel)
			}
			return m, rel, true
		}
	}
	return nil, path.Root, false
}

func stripPrefix(p, prefix path.Path) path.Path {
	full := p.Segments()
	base := prefix.Segments()
	if len(full) < len(base) {
		return path.Root
	}
	return path.New(full[len(base):], p.IsIndex())
}

func joinOverlay(overlay, rel path.Path) path.Path {
	segs := append(append([]string(nil), overlay.Segments()...), rel.Segments()...)
	return path.New(segs, rel.IsIndex())
}

func (r *RootStorage) Load(ctx context.Context, p path.Path) (*dict.Dict, error) {
	r.mu.RLock()
	m, rel, ok := r.resolve(p)
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.backend.Load(ctx, rel)
}

func (r *RootStorage) Store(ctx context.Context, p path.Path, data *dict.Dict) error {
	r.mu.RLock()
	m, rel, ok := r.resolve(p)
	r.mu.RUnlock()
	if !ok {
		return ErrMountNotFound
	}
	if m.readOnly {
		return ErrReadOnly
	}
	return m.backend.Store(ctx, rel, data)
}

func (r *RootStorage) Remove(ctx context.Context, p path.Path) error {
	r.mu.RLock()
	m, rel, ok := r.resolve(p)
	r.mu.RUnlock()
	if !ok {
		return ErrMountNotFound
	}
	if m.readOnly {
		return ErrReadOnly
	}
	return m.backend.Remove(ctx, rel)
}

// Query merges prefix-query results across every mount whose
// storagePath overlaps base, de-duplicating by absolute path with
// higher-priority mounts shadowing lower ones.
func (r *RootStorage) Query(ctx context.Context, base path.Path) ([]path.Path, error) {
	r.mu.RLock()
	mounts := append([]*mount(nil), r.mounts...)
	r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []path.Path
	for _, m := range mounts {
		if !(m.storagePath.HasPrefix(base) || base.HasPrefix(m.storagePath) || m.storagePath.IsRoot()) {
			continue
		}
		rel := stripPrefix(base, m.storagePath)
		results, err := m.backend.Query(ctx, rel)
		if err != nil {
			continue
		}
		for _, p := range results {
			abs := joinOverlay(m.storagePath, p)
			key := abs.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, abs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (r *RootStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, m := range r.mounts {
		if err := m.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.mounts = nil
	return firstErr
}

// Mounts returns the storage paths currently mounted, in resolution
// order (most specific first), for diagnostics and the admin API.
func (r *RootStorage) Mounts() []path.Path {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]path.Path, len(r.mounts))
	for i, m := range r.mounts {
		out[i] = m.storagePath
	}
	return out
}
