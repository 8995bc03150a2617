// Package main is the kernel's process entrypoint: a cobra CLI wiring
// viper configuration, the slog/lumberjack logger, and the application
// context into a running HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/concordkernel/appserver/internal/config"
	"github.com/concordkernel/appserver/internal/database/postgres"
	"github.com/concordkernel/appserver/internal/kernel/app"
	"github.com/concordkernel/appserver/internal/kernel/path"
	"github.com/concordkernel/appserver/internal/kernel/plugin"
	"github.com/concordkernel/appserver/internal/kernel/pool"
	"github.com/concordkernel/appserver/internal/kernel/procedure"
	"github.com/concordkernel/appserver/internal/kernel/scheduler"
	"github.com/concordkernel/appserver/internal/kernel/security"
	"github.com/concordkernel/appserver/internal/kernel/session"
	"github.com/concordkernel/appserver/internal/kernel/storage"
	"github.com/concordkernel/appserver/internal/kernel/types"
	"github.com/concordkernel/appserver/internal/kernel/web"
	"github.com/concordkernel/appserver/pkg/logger"
)

const version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "kernel",
		Short: "Application server kernel",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kernel version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the application server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)
	log.Info("starting kernel", "version", version, "profile", cfg.Profile)

	appCtx := app.New(cfg, log)
	if err := appCtx.Init(ctx, func(a *app.AppContext) (app.Built, error) {
		return buildApp(ctx, cfg, a)
	}); err != nil {
		return fmt.Errorf("initializing application context: %w", err)
	}

	handler := buildHandler(cfg, appCtx, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go runSignalHandler(ctx, appCtx, cfg, log)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-quit:
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	appCtx.Stop(shutdownCtx)
	log.Info("kernel stopped")
	return nil
}

// buildHandler assembles the outer HTTP surface: the kernel's own
// dispatcher mounted behind the gorilla/mux catch-all, plus the
// always-on /healthz endpoint and, when metrics are enabled, the metrics
// endpoint; both sit outside the matcher table entirely.
func buildHandler(cfg *config.Config, a *app.AppContext, log *slog.Logger) http.Handler {
	snap := a.Current()
	auth := web.NewSessionAuthenticator(sessionStoreAdapter{snap.Sessions}, cfg.Server.CookieName)

	dispatcher := web.NewDispatcher(snap.Matchers, auth, snap.Roles, snap.Library,
		procedure.Chain(procedure.ExecuteInterceptor(log)), cfg.Kernel.RecursionLimit, log)
	dispatcher.CookieName = cfg.Server.CookieName
	dispatcher.CookiePath = cfg.Server.CookiePath
	dispatcher.CookieDomain = cfg.Server.CookieDomain
	dispatcher.RateLimiter = web.NewRateLimiter()

	router := web.NewRouter(dispatcher, snap.EventBus, log)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}
	router.HandleFunc("/healthz", healthHandler(a))
	return logger.LoggingMiddleware(log)(router)
}

func healthHandler(a *app.AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok"}`)
	}
}

// buildApp assembles every kernel subsystem for the configured
// deployment profile: Lite mounts an embedded FileTreeStorage under a
// CachedStorage front, Standard mounts PostgresStorage instead and adds
// Postgres/Redis channel pools.
func buildApp(ctx context.Context, cfg *config.Config, a *app.AppContext) (app.Built, error) {
	root := storage.NewRootStorage()

	var backend storage.Storage
	var pgPool *postgres.PostgresPool
	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		pgCfg := &postgres.PostgresConfig{
			Host:              cfg.Database.Host,
			Port:              cfg.Database.Port,
			Database:          cfg.Database.Database,
			User:              cfg.Database.Username,
			Password:          cfg.Database.Password,
			SSLMode:           cfg.Database.SSLMode,
			MaxConns:          int32(cfg.Database.MaxConnections),
			MinConns:          int32(cfg.Database.MinConnections),
			MaxConnLifetime:   cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
			ConnectTimeout:    cfg.Database.ConnectTimeout,
			HealthCheckPeriod: 30 * time.Second,
		}
		pgPool = postgres.NewPostgresPool(pgCfg, a.Logger())
		pgStorage, err := storage.NewPostgresStorage(ctx, pgPool, "kernel_objects")
		if err != nil {
			return app.Built{}, fmt.Errorf("mounting postgres storage: %w", err)
		}
		backend = pgStorage
	default:
		fsStorage, err := storage.NewFileTreeStorage(cfg.Storage.FilesystemPath, false)
		if err != nil {
			return app.Built{}, fmt.Errorf("mounting file tree storage: %w", err)
		}
		backend = fsStorage
	}

	cached, err := storage.NewCachedStorage(backend, cfg.Cache.MaxEntries, cfg.Kernel.ObjectActiveDefault, a.Logger())
	if err != nil {
		return app.Built{}, fmt.Errorf("wrapping storage in cache: %w", err)
	}
	if err := root.Mount(path.Parse("/"), cached, false, path.Root, 0); err != nil {
		return app.Built{}, fmt.Errorf("mounting root storage: %w", err)
	}

	typeReg := types.New()
	if err := types.LoadAll(ctx, typeReg, root); err != nil {
		a.Logger().Warn("loading type definitions", "error", err)
	}

	bus := web.NewEventBus(a.Logger(), a.EventMetrics())

	plugins := plugin.NewManager(root, typeReg, eventPublisherAdapter{bus}, cfg.Plugins.BaseDir, cfg.Plugins.LocalDir, a.Logger())
	for _, id := range cfg.Plugins.Autoload {
		if err := plugins.Load(ctx, id); err != nil {
			a.Logger().Error("autoloading plugin failed", "plugin", id, "error", err)
		}
	}

	library := procedure.NewLibrary()
	roles := security.NewRoleSet([]*security.Role{
		{ID: security.AutoAll},
	})

	sessStore := storage.NewMemoryStorage()
	if err := root.Mount(path.Parse("/session/"), sessStore, false, path.Root, 100); err != nil {
		return app.Built{}, fmt.Errorf("mounting session storage: %w", err)
	}
	sessions := session.NewManager(root, cfg.Kernel.SessionTTLAnonymous, cfg.Kernel.SessionTTLAuthed)

	pools := map[string]*pool.Pool{}
	if cfg.Profile == config.ProfileStandard {
		pools["redis"] = pool.New("redis", pool.NewRedisFactory(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB),
			cfg.Kernel.ChannelDefaultMaxOpen, cfg.Kernel.ChannelDefaultIdle, a.Logger())
		pools["postgres"] = pool.New("postgres", pool.NewPostgresFactory(cfg.GetDatabaseURL()),
			cfg.Kernel.ChannelDefaultMaxOpen, cfg.Kernel.ChannelDefaultIdle, a.Logger())
	}

	matchers := web.NewMatcherTable()

	jobs := []scheduler.Job{
		{Name: "cache-clean", Interval: cfg.Kernel.CacheCleanInterval, Run: func(ctx context.Context) {
			cached.Sweep(cfg.Kernel.ObjectActiveDefault)
		}},
		{Name: "session-sweep", Interval: cfg.Kernel.SessionSweepInterval, Run: func(ctx context.Context) {
			files, err := sessions.Sweep(ctx, time.Now())
			if err != nil {
				a.Logger().Error("session sweep failed", "error", err)
				return
			}
			for _, f := range files {
				_ = os.Remove(f)
			}
		}},
	}
	for name, p := range pools {
		p := p
		jobs = append(jobs, scheduler.Job{
			Name:     "pool-evict-" + name,
			Interval: cfg.Kernel.PoolMaxWait,
			Run: func(ctx context.Context) {
				p.EvictIdle(time.Now())
			},
		})
	}
	if pgPool != nil {
		jobs = append(jobs, scheduler.Job{
			Name:     "postgres-metrics-export",
			Interval: cfg.Kernel.PoolMaxWait,
			Run: func(ctx context.Context) {
				pgPool.ExportMetrics(a.PoolMetrics(), "postgres")
			},
		})
	}

	return app.Built{
		Root:     root,
		Cached:   cached,
		Types:    typeReg,
		Plugins:  plugins,
		Library:  library,
		Roles:    roles,
		Sessions: sessions,
		Pools:    pools,
		EventBus: bus,
		Matchers: matchers,
		Jobs:     jobs,
	}, nil
}

// eventPublisherAdapter satisfies plugin.EventPublisher by wrapping a
// DefaultEventBus's richer Event-struct Publish behind the plugin
// manager's simpler (type, data, source) signature.
type eventPublisherAdapter struct {
	bus *web.DefaultEventBus
}

func (a eventPublisherAdapter) Publish(eventType string, data map[string]any, source string) {
	_ = a.bus.Publish(*web.NewEvent(eventType, data, source))
}

// sessionStoreAdapter satisfies web.SessionStore by wrapping
// session.Manager, whose *Session return type carries the principal
// fields web.SessionPrincipal exposes.
type sessionStoreAdapter struct {
	mgr *session.Manager
}

func (a sessionStoreAdapter) Get(ctx context.Context, id string, now time.Time) (web.SessionPrincipal, error) {
	s, err := a.mgr.Get(ctx, id, now)
	if err != nil {
		return nil, err
	}
	return sessionPrincipal{s}, nil
}

func (a sessionStoreAdapter) Create(ctx context.Context, id string, now time.Time) (web.SessionPrincipal, error) {
	s, err := a.mgr.Create(ctx, id, now)
	if err != nil {
		return nil, err
	}
	return sessionPrincipal{s}, nil
}

type sessionPrincipal struct {
	s *session.Session
}

func (p sessionPrincipal) PrincipalID() string { return p.s.UserID }

func (p sessionPrincipal) PrincipalRoles() []string {
	if p.s.Data == nil {
		return nil
	}
	raw := p.s.Data.GetList("roles")
	if raw == nil {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

func (p sessionPrincipal) IsAnonymous() bool { return p.s.UserID == "" }
