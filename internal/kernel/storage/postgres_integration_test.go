//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/concordkernel/appserver/internal/database/postgres"
	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

// spins up a real Postgres via testcontainers to exercise PostgresStorage
// against the driver it actually ships with (pgx), rather than a fake.
func TestPostgresStorageRoundTrip(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("kernel_test"),
		tcpostgres.WithUsername("kernel"),
		tcpostgres.WithPassword("kernel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := postgres.DefaultConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.Database = "kernel_test"
	cfg.User = "kernel"
	cfg.Password = "kernel"
	cfg.SSLMode = "disable"

	pool := postgres.NewPostgresPool(cfg, nil)
	t.Cleanup(func() { _ = pool.Disconnect(ctx) })

	s, err := NewPostgresStorage(ctx, pool, "kernel_objects_test")
	require.NoError(t, err)

	p := path.Parse("/type/widget")
	d := dict.New()
	_ = d.Set("id", "widget")

	require.NoError(t, s.Store(ctx, p, d))

	loaded, err := s.Load(ctx, p)
	require.NoError(t, err)
	v, ok := loaded.Get("id")
	require.True(t, ok)
	require.Equal(t, "widget", v)

	require.NoError(t, s.Remove(ctx, p))
	_, err = s.Load(ctx, p)
	require.ErrorIs(t, err, ErrNotFound)
}
