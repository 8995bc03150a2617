package plugin

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/concordkernel/appserver/internal/kernel/path"
	"github.com/concordkernel/appserver/internal/kernel/storage"
	"github.com/concordkernel/appserver/internal/kernel/types"
)

type fakeEvents struct {
	events []string
}

func (f *fakeEvents) Publish(eventType string, data map[string]any, source string) {
	f.events = append(f.events, eventType)
}

func writeFakeBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "sample.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("data.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return zipPath
}

func TestInstallLoadUnload(t *testing.T) {
	ctx := context.Background()
	root := storage.NewRootStorage()
	_ = root.Mount(path.Root, storage.NewMemoryStorage(), false, path.Root, -1)

	registry := types.New()
	events := &fakeEvents{}
	localDir := t.TempDir()
	m := NewManager(root, registry, events, t.TempDir(), localDir, nil)

	bundle := writeFakeBundle(t)
	if err := m.Install(ctx, "sample", bundle, 10); err != nil {
		t.Fatal(err)
	}

	if err := m.Load(ctx, "sample"); err != nil {
		t.Fatal(err)
	}
	if !m.Loaded("sample") {
		t.Fatal("expected plugin to be loaded")
	}

	if err := m.Load(ctx, "sample"); err != ErrAlreadyLoaded {
		t.Fatalf("expected ErrAlreadyLoaded, got %v", err)
	}

	if err := m.Unload(ctx, "sample"); err != nil {
		t.Fatal(err)
	}
	if m.Loaded("sample") {
		t.Fatal("expected plugin to be unloaded")
	}

	if len(events.events) != 2 || events.events[0] != pluginEventLoaded || events.events[1] != pluginEventUnloaded {
		t.Fatalf("events = %v", events.events)
	}
}

func TestLoadUnknownPlugin(t *testing.T) {
	ctx := context.Background()
	root := storage.NewRootStorage()
	m := NewManager(root, types.New(), nil, t.TempDir(), t.TempDir(), nil)

	if err := m.Load(ctx, "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
