package session

import (
	"context"
	"testing"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/storage"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemoryStorage(), time.Hour, 24*time.Hour)
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	now := time.Now()

	s, err := m.Create(ctx, "sess-1", now)
	if err != nil {
		t.Fatal(err)
	}
	if s.UserID != "" {
		t.Fatal("new session should be anonymous")
	}

	got, err := m.Get(ctx, "sess-1", now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "sess-1" {
		t.Fatalf("Get = %+v", got)
	}
}

func TestGetExpiredReturnsError(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	now := time.Now()
	_, _ = m.Create(ctx, "sess-1", now)

	if _, err := m.Get(ctx, "sess-1", now.Add(2*time.Hour)); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := m.Get(ctx, "sess-1", now.Add(3*time.Hour)); err != ErrNotFound {
		t.Fatalf("expected session removed after expiry, got %v", err)
	}
}

func TestBindUserOnceInvariant(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	now := time.Now()
	_, _ = m.Create(ctx, "sess-1", now)

	s, err := m.BindUser(ctx, "sess-1", "alice", now)
	if err != nil {
		t.Fatal(err)
	}
	if s.UserID != "alice" {
		t.Fatalf("BindUser did not set user: %+v", s)
	}

	if _, err := m.BindUser(ctx, "sess-1", "bob", now); err != ErrAlreadyBound {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}

	if _, err := m.BindUser(ctx, "sess-1", "alice", now); err != nil {
		t.Fatalf("rebinding the same user should be idempotent: %v", err)
	}
}

func TestBindUserExtendsTTL(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	now := time.Now()
	_, _ = m.Create(ctx, "sess-1", now)
	_, _ = m.BindUser(ctx, "sess-1", "alice", now)

	if _, err := m.Get(ctx, "sess-1", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("expected authenticated TTL to cover 2h, got %v", err)
	}
}

func TestSweepRemovesExpiredAndReportsFiles(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	now := time.Now()
	_, _ = m.Create(ctx, "sess-1", now)
	_ = m.TrackFile(ctx, "sess-1", "/tmp/upload-1", now)

	orphaned, err := m.Sweep(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(orphaned) != 1 || orphaned[0] != "/tmp/upload-1" {
		t.Fatalf("Sweep orphaned files = %v", orphaned)
	}
	if _, err := m.Get(ctx, "sess-1", now.Add(2*time.Hour)); err != ErrNotFound {
		t.Fatalf("expected session removed by sweep, got %v", err)
	}
}
