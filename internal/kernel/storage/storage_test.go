package storage

import (
	"context"
	"testing"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()
	p := path.Parse("/type/user")
	d := dict.New()
	_ = d.Set("id", "user")

	if err := m.Store(ctx, p, d); err != nil {
		t.Fatal(err)
	}
	got, err := m.Load(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := got.Get("id"); v != "user" {
		t.Fatalf("Load = %v", v)
	}

	if _, err := m.Load(ctx, path.Parse("/missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStorageQueryPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()
	_ = m.Store(ctx, path.Parse("/plugin/a/data"), dict.New())
	_ = m.Store(ctx, path.Parse("/plugin/a/more"), dict.New())
	_ = m.Store(ctx, path.Parse("/plugin/b/data"), dict.New())

	got, err := m.Query(ctx, path.Parse("/plugin/a/"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Query = %v, want 2 entries", got)
	}
}

func TestFileTreeStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileTreeStorage(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()

	p := path.Parse("/session/abc")
	d := dict.New()
	_ = d.Set("user", "alice")
	if err := fs.Store(ctx, p, d); err != nil {
		t.Fatal(err)
	}

	got, err := fs.Load(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := got.Get("user"); v != "alice" {
		t.Fatalf("Load = %v", v)
	}

	if err := fs.Remove(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx, p); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestFileTreeStorageReadOnlyRejectsWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rw, _ := NewFileTreeStorage(dir, false)
	_ = rw.Store(ctx, path.Parse("/a"), dict.New())
	rw.Close()

	ro, err := NewFileTreeStorage(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := ro.Store(ctx, path.Parse("/b"), dict.New()); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestRootStorageMountResolution(t *testing.T) {
	ctx := context.Background()
	root := NewRootStorage()
	pluginBackend := NewMemoryStorage()
	if err := root.Mount(path.Parse("/plugin/sample/"), pluginBackend, false, path.Root, 0); err != nil {
		t.Fatal(err)
	}
	rootBackend := NewMemoryStorage()
	if err := root.Mount(path.Root, rootBackend, false, path.Root, 0); err != nil {
		t.Fatal(err)
	}

	d := dict.New()
	_ = d.Set("v", 1)
	if err := root.Store(ctx, path.Parse("/plugin/sample/data"), d); err != nil {
		t.Fatal(err)
	}

	if _, err := pluginBackend.Load(ctx, path.Parse("/data")); err != nil {
		t.Fatalf("expected write to land on the more specific mount: %v", err)
	}
}

func TestRootStorageMountConflict(t *testing.T) {
	root := NewRootStorage()
	_ = root.Mount(path.Parse("/a/"), NewMemoryStorage(), false, path.Root, 0)
	if err := root.Mount(path.Parse("/a/"), NewMemoryStorage(), false, path.Root, 0); err != ErrMountConflict {
		t.Fatalf("expected ErrMountConflict, got %v", err)
	}
}

func TestRootStorageUnmount(t *testing.T) {
	root := NewRootStorage()
	_ = root.Mount(path.Parse("/a/"), NewMemoryStorage(), false, path.Root, 0)
	if err := root.Unmount(path.Parse("/a/")); err != nil {
		t.Fatal(err)
	}
	if err := root.Unmount(path.Parse("/a/")); err != ErrMountNotFound {
		t.Fatalf("expected ErrMountNotFound, got %v", err)
	}
}

func TestCachedStorageWriteBackOnSweep(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStorage()
	cached, err := NewCachedStorage(backend, 10, time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}

	p := path.Parse("/x")
	d := dict.New()
	_ = d.Set("a", 1)
	if err := cached.Store(ctx, p, d); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	cached.Sweep(time.Millisecond)

	if _, err := backend.Load(ctx, p); err != nil {
		t.Fatalf("expected backend to have data after sweep: %v", err)
	}
}

func TestCachedStorageEvictionWritesBack(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStorage()
	cached, err := NewCachedStorage(backend, 1, time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}

	_ = cached.Store(ctx, path.Parse("/one"), dict.New())
	_ = cached.Store(ctx, path.Parse("/two"), dict.New())

	if _, err := backend.Load(ctx, path.Parse("/one")); err != nil {
		t.Fatalf("expected evicted entry to be written back: %v", err)
	}
}
