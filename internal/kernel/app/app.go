// Package app wires together every kernel subsystem into one process-
// wide AppContext: root storage, type registry, plug-in manager,
// procedure library, security roles, session manager, channel pools,
// background scheduler, and the admin event bus. AppContext.Reset tears
// down and rebuilds all of this in place, the kernel's equivalent of a
// config hot-reload, without restarting the process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/concordkernel/appserver/internal/config"
	"github.com/concordkernel/appserver/internal/kernel/pool"
	"github.com/concordkernel/appserver/internal/kernel/procedure"
	"github.com/concordkernel/appserver/internal/kernel/scheduler"
	"github.com/concordkernel/appserver/internal/kernel/security"
	"github.com/concordkernel/appserver/internal/kernel/session"
	"github.com/concordkernel/appserver/internal/kernel/storage"
	"github.com/concordkernel/appserver/internal/kernel/types"
	"github.com/concordkernel/appserver/internal/kernel/web"
	"github.com/concordkernel/appserver/internal/metrics"
)

// PluginManager is the subset of plugin.Manager that AppContext drives
// directly, narrowed to an interface so this package does not import
// plugin and create app↔plugin↔storage import ordering constraints
// beyond what is already required.
type PluginManager interface {
	Load(ctx context.Context, id string) error
	Reset(ctx context.Context) error
}

// AppContext is the process-wide, swappable kernel instance. Exactly one
// AppContext is live at a time; Reset atomically swaps its internal
// state so in-flight requests finish against a consistent snapshot
// while new requests see the rebuilt instance.
type AppContext struct {
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.RWMutex
	root      *storage.RootStorage
	cached    *storage.CachedStorage
	typeReg   *types.Registry
	plugins   PluginManager
	library   *procedure.Library
	roles     *security.RoleSet
	sessions  *session.Manager
	pools     map[string]*pool.Pool
	eventBus  *web.DefaultEventBus
	matchers  *web.MatcherTable
	scheduler *scheduler.Scheduler

	eventMetrics   *metrics.EventMetrics
	poolMetrics    *metrics.PoolMetrics
	storageMetrics *metrics.StorageMetrics
}

// EventMetrics returns the process-wide event-bus collectors. Built once
// in New so repeated Reset calls do not attempt to register the same
// Prometheus collectors twice; build functions should reuse it rather
// than calling metrics.NewEventMetrics themselves.
func (a *AppContext) EventMetrics() *metrics.EventMetrics { return a.eventMetrics }

// PoolMetrics returns the process-wide channel-pool collectors.
func (a *AppContext) PoolMetrics() *metrics.PoolMetrics { return a.poolMetrics }

// StorageMetrics returns the process-wide object-cache collectors.
func (a *AppContext) StorageMetrics() *metrics.StorageMetrics { return a.storageMetrics }

// Cached returns the object-cache layer in front of root storage, or nil
// if the current build did not wrap one.
func (a *AppContext) Cached() *storage.CachedStorage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cached
}

// New builds an AppContext from cfg but does not start its background
// jobs or admin event bus; call Init for that.
func New(cfg *config.Config, logger *slog.Logger) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	namespace := "kernel"
	if cfg != nil && cfg.App.Name != "" {
		namespace = cfg.App.Name
	}
	return &AppContext{
		cfg:            cfg,
		logger:         logger,
		eventMetrics:   metrics.NewEventMetrics(namespace),
		poolMetrics:    metrics.NewPoolMetrics(namespace),
		storageMetrics: metrics.NewStorageMetrics(namespace),
	}
}

// Init performs the first build of every subsystem and starts the
// scheduler and event bus. build is supplied by the caller (cmd/server)
// so AppContext itself stays free of concrete plug-in-manager /
// procedure-registration wiring decisions, which differ between the
// "lite" and "standard" deployment profiles.
func (a *AppContext) Init(ctx context.Context, build func(*AppContext) (Built, error)) error {
	return a.rebuild(ctx, build, true)
}

// Reset tears down and rebuilds every subsystem in place: it stops the
// scheduler, closes storage mounts and channel pools, then runs build
// again and restarts the scheduler. Concurrent requests hold a read
// lock via Snapshot while Reset holds the write lock only for the
// instant of the pointer swap, so an in-flight request finishes against
// its original snapshot rather than being torn down mid-call.
func (a *AppContext) Reset(ctx context.Context, build func(*AppContext) (Built, error)) error {
	return a.rebuild(ctx, build, false)
}

// Built is the set of subsystem instances a build function assembles;
// AppContext takes ownership of them on a successful rebuild.
type Built struct {
	Root      *storage.RootStorage
	Cached    *storage.CachedStorage
	Types     *types.Registry
	Plugins   PluginManager
	Library   *procedure.Library
	Roles     *security.RoleSet
	Sessions  *session.Manager
	Pools     map[string]*pool.Pool
	EventBus  *web.DefaultEventBus
	Matchers  *web.MatcherTable
	Jobs      []scheduler.Job
}

func (a *AppContext) rebuild(ctx context.Context, build func(*AppContext) (Built, error), first bool) error {
	if !first {
		a.teardown(ctx)
	}

	built, err := build(a)
	if err != nil {
		return fmt.Errorf("app: rebuild failed: %w", err)
	}

	sched := scheduler.New(built.Jobs, 10*time.Second, a.logger)
	sched.Start(ctx)

	if err := built.EventBus.Start(ctx); err != nil {
		return fmt.Errorf("app: starting event bus: %w", err)
	}

	a.mu.Lock()
	a.root = built.Root
	a.cached = built.Cached
	a.typeReg = built.Types
	a.plugins = built.Plugins
	a.library = built.Library
	a.roles = built.Roles
	a.sessions = built.Sessions
	a.pools = built.Pools
	a.eventBus = built.EventBus
	a.matchers = built.Matchers
	a.scheduler = sched
	a.mu.Unlock()

	if !first {
		a.eventBus.Publish(*web.NewEvent(web.EventTypeEnvironmentReset, nil, web.EventSourceAppContext))
	}
	return nil
}

func (a *AppContext) teardown(ctx context.Context) {
	a.mu.RLock()
	sched := a.scheduler
	bus := a.eventBus
	root := a.root
	pools := a.pools
	a.mu.RUnlock()

	if sched != nil {
		sched.Stop()
	}
	if bus != nil {
		_ = bus.Stop(ctx)
	}
	for _, p := range pools {
		_ = p.Close()
	}
	if root != nil {
		_ = root.Close()
	}
}

// Stop tears down the running AppContext for process shutdown.
func (a *AppContext) Stop(ctx context.Context) {
	a.teardown(ctx)
}

// Snapshot is a consistent, read-locked view of every subsystem, valid
// for the duration of one request; callers must not retain it past the
// request.
type Snapshot struct {
	Root     *storage.RootStorage
	Types    *types.Registry
	Plugins  PluginManager
	Library  *procedure.Library
	Roles    *security.RoleSet
	Sessions *session.Manager
	Pools    map[string]*pool.Pool
	EventBus *web.DefaultEventBus
	Matchers *web.MatcherTable
}

// Current returns a Snapshot of the live subsystem set.
func (a *AppContext) Current() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Root: a.root, Types: a.typeReg, Plugins: a.plugins, Library: a.library,
		Roles: a.roles, Sessions: a.sessions, Pools: a.pools, EventBus: a.eventBus,
		Matchers: a.matchers,
	}
}

// Config returns the configuration the AppContext was built from.
func (a *AppContext) Config() *config.Config { return a.cfg }

// Logger returns the AppContext's injected logger.
func (a *AppContext) Logger() *slog.Logger { return a.logger }
