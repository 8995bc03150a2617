package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/concordkernel/appserver/internal/config"
	"github.com/concordkernel/appserver/internal/kernel/path"
	"github.com/concordkernel/appserver/internal/kernel/pool"
	"github.com/concordkernel/appserver/internal/kernel/procedure"
	"github.com/concordkernel/appserver/internal/kernel/scheduler"
	"github.com/concordkernel/appserver/internal/kernel/security"
	"github.com/concordkernel/appserver/internal/kernel/session"
	"github.com/concordkernel/appserver/internal/kernel/storage"
	"github.com/concordkernel/appserver/internal/kernel/types"
	"github.com/concordkernel/appserver/internal/kernel/web"
)

type fakePluginManager struct {
	loadCalls  int
	resetCalls int
}

func (f *fakePluginManager) Load(ctx context.Context, id string) error { f.loadCalls++; return nil }
func (f *fakePluginManager) Reset(ctx context.Context) error           { f.resetCalls++; return nil }

func testBuild(a *AppContext) (Built, error) {
	root := storage.NewRootStorage()
	if err := root.Mount(path.Root, storage.NewMemoryStorage(), false, path.Root, 0); err != nil {
		return Built{}, err
	}

	sessions := session.NewManager(root, 30*time.Minute, 24*time.Hour)
	lib := procedure.NewLibrary()
	roles := security.NewRoleSet(nil)
	matchers := web.NewMatcherTable()
	bus := web.NewEventBus(slog.Default(), a.EventMetrics())

	return Built{
		Root:     root,
		Types:    types.New(),
		Plugins:  &fakePluginManager{},
		Library:  lib,
		Roles:    roles,
		Sessions: sessions,
		Pools:    map[string]*pool.Pool{},
		EventBus: bus,
		Matchers: matchers,
		Jobs: []scheduler.Job{
			{Name: "noop", Interval: time.Hour, Run: func(ctx context.Context) {}},
		},
	}, nil
}

func TestInitBuildsSnapshot(t *testing.T) {
	a := New(&config.Config{}, slog.Default())
	if err := a.Init(context.Background(), testBuild); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	snap := a.Current()
	if snap.Root == nil || snap.Library == nil || snap.Sessions == nil || snap.EventBus == nil {
		t.Fatal("expected snapshot to carry every built subsystem")
	}
}

func TestResetRebuildsSubsystems(t *testing.T) {
	a := New(&config.Config{}, slog.Default())
	if err := a.Init(context.Background(), testBuild); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	before := a.Current()
	if err := a.Reset(context.Background(), testBuild); err != nil {
		t.Fatal(err)
	}
	after := a.Current()

	if before.Root == after.Root {
		t.Fatal("expected Reset to install a fresh root storage instance")
	}
}

func TestStopTearsDownCleanly(t *testing.T) {
	a := New(&config.Config{}, slog.Default())
	if err := a.Init(context.Background(), testBuild); err != nil {
		t.Fatal(err)
	}
	a.Stop(context.Background())
}
