package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

// entry is one cached object instance plus its lifecycle metadata.
type entry struct {
	data *dict.Dict
	meta dict.Meta
}

// CachedStorage wraps a backing Storage with a bounded in-memory object
// cache. Reads hit the cache on activation; Store writes through to the
// backend at once and caches the written copy. Nothing marks a cached
// copy modified, so eviction and Sweep drop entries without writing
// them back.
type CachedStorage struct {
	backend Storage
	logger  *slog.Logger

	mu          sync.Mutex
	cache       *lru.Cache[string, *entry]
	activeWindow time.Duration
}

// NewCachedStorage wraps backend with an LRU cache of maxEntries
// objects. activeWindow is stored but not read; Sweep takes its idle
// limit as an argument.
func NewCachedStorage(backend Storage, maxEntries int, activeWindow time.Duration, logger *slog.Logger) (*CachedStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cs := &CachedStorage{backend: backend, logger: logger, activeWindow: activeWindow}
	c, err := lru.NewWithEvict(maxEntries, cs.onEvict)
	if err != nil {
		return nil, err
	}
	cs.cache = c
	return cs, nil
}

// onEvict is invoked by the LRU on capacity-forced eviction; dirty
// entries are written back before being dropped.
func (c *CachedStorage) onEvict(key string, e *entry) {
	if !e.meta.Modified {
		return
	}
	if err := c.backend.Store(context.Background(), path.Parse(key), e.data); err != nil {
		c.logger.Error("cache eviction write-back failed", "path", key, "error", err)
	}
}

func (c *CachedStorage) Load(ctx context.Context, p path.Path) (*dict.Dict, error) {
	key := p.String()

	c.mu.Lock()
	if e, ok := c.cache.Get(key); ok {
		e.meta.Touch(time.Now())
		c.mu.Unlock()
		return e.data, nil
	}
	c.mu.Unlock()

	d, err := c.backend.Load(ctx, p)
	if err != nil {
		return nil, err
	}

	e := &entry{data: d}
	e.meta.Touch(time.Now())
	c.mu.Lock()
	c.cache.Add(key, e)
	c.mu.Unlock()
	return d, nil
}

func (c *CachedStorage) Store(ctx context.Context, p path.Path, data *dict.Dict) error {
	if err := c.backend.Store(ctx, p, data); err != nil {
		return err
	}
	key := p.String()
	e := &entry{data: data}
	e.meta.Touch(time.Now())
	c.mu.Lock()
	c.cache.Add(key, e)
	c.mu.Unlock()
	return nil
}

func (c *CachedStorage) Remove(ctx context.Context, p path.Path) error {
	if err := c.backend.Remove(ctx, p); err != nil {
		return err
	}
	c.mu.Lock()
	c.cache.Remove(p.String())
	c.mu.Unlock()
	return nil
}

func (c *CachedStorage) Query(ctx context.Context, base path.Path) ([]path.Path, error) {
	return c.backend.Query(ctx, base)
}

func (c *CachedStorage) Close() error {
	c.Sweep(time.Duration(0))
	return c.backend.Close()
}

// Sweep passivates every cached entry whose ActivatedTime is older than
// maxAge, writing back dirty entries and evicting them from the cache.
// Called periodically by the scheduler's cache-clean task (spec.md §6
// background jobs), and with a zero maxAge on Close to flush everything.
func (c *CachedStorage) Sweep(maxAge time.Duration) {
	now := time.Now()

	c.mu.Lock()
	keys := c.cache.Keys()
	var stale []string
	for _, k := range keys {
		e, ok := c.cache.Peek(k)
		if !ok {
			continue
		}
		if now.Sub(e.meta.ActivatedTime) >= maxAge {
			stale = append(stale, k)
		}
	}
	c.mu.Unlock()

	for _, k := range stale {
		c.mu.Lock()
		e, ok := c.cache.Peek(k)
		if !ok {
			c.mu.Unlock()
			continue
		}
		c.cache.Remove(k)
		c.mu.Unlock()

		if e.meta.Modified {
			if err := c.backend.Store(context.Background(), path.Parse(k), e.data); err != nil {
				c.logger.Error("cache sweep write-back failed", "path", k, "error", err)
			}
		}
	}
}

// Len reports the number of objects currently cached, for metrics.
func (c *CachedStorage) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
