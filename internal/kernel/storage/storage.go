// Package storage implements the kernel's layered, mountable object store
// (spec.md's root storage / mount table component). Every plug-in,
// session, and procedure definition is persisted through this layer.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

// Entry pairs a path with the dict found there, returned while iterating
// a prefix query.
type Entry struct {
	Path path.Path
	Data *dict.Dict
}

// Storage is implemented by every storage backend: in-memory, on-disk
// file tree, read-only zip bundle, and the root mount table itself.
type Storage interface {
	// Load returns the dict stored at p, or ErrNotFound.
	Load(ctx context.Context, p path.Path) (*dict.Dict, error)

	// Store persists data at p, creating or overwriting it.
	Store(ctx context.Context, p path.Path, data *dict.Dict) error

	// Remove deletes the object at p, or everything under p if p is an
	// index path. No error if nothing existed.
	Remove(ctx context.Context, p path.Path) error

	// Query returns every stored path that has base as a prefix, in
	// lexical order, without loading their data.
	Query(ctx context.Context, base path.Path) ([]path.Path, error)

	// Close releases backend resources (file handles, pooled
	// connections). Safe to call multiple times.
	Close() error
}

// MemoryStorage is a process-local, non-persistent Storage backend,
// backed by a plain map guarded by a mutex. Used for the session store's
// transient mount and for tests.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]*dict.Dict
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]*dict.Dict)}
}

func (m *MemoryStorage) Load(_ context.Context, p path.Path) (*dict.Dict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[p.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStorage) Store(_ context.Context, p path.Path, data *dict.Dict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[p.String()] = data
	return nil
}

func (m *MemoryStorage) Remove(_ context.Context, p path.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.IsIndex() {
		prefix := p.String()
		for k := range m.data {
			if strings.HasPrefix(k, prefix) {
				delete(m.data, k)
			}
		}
		return nil
	}
	delete(m.data, p.String())
	return nil
}

func (m *MemoryStorage) Query(_ context.Context, base path.Path) ([]path.Path, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := base.String()
	var out []path.Path
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, path.Parse(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *MemoryStorage) Close() error { return nil }
