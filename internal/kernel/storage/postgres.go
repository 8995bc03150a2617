package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/concordkernel/appserver/internal/database/postgres"
	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

// PostgresStorage persists objects as rows of (path, data jsonb) in a
// single table, for the "standard" deployment profile's durable mount
// (spec.md §4.1's networked storage mount, as opposed to Lite's
// FileTreeStorage). It is built on the teacher's own pgxpool-backed
// PostgresPool rather than a bare pgx connection, since this mount wants
// the driver's own internal pooling, retries, and health checks — unlike
// the C7 channel pool's PostgresChannel, which deliberately wraps a
// single unpooled *pgx.Conn per checked-out channel.
type PostgresStorage struct {
	pool  *postgres.PostgresPool
	table string
}

// NewPostgresStorage connects pool (already configured) and ensures the
// backing table exists.
func NewPostgresStorage(ctx context.Context, pool *postgres.PostgresPool, table string) (*PostgresStorage, error) {
	if table == "" {
		table = "kernel_objects"
	}
	if err := pool.Connect(ctx); err != nil {
		return nil, &OpFailed{Op: "connect", Path: table, Cause: err}
	}
	s := &PostgresStorage{pool: pool, table: table}
	ddl := "CREATE TABLE IF NOT EXISTS " + table + " (path TEXT PRIMARY KEY, data JSONB NOT NULL, is_index BOOLEAN NOT NULL DEFAULT false)"
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, &OpFailed{Op: "migrate", Path: table, Cause: err}
	}
	return s, nil
}

func (s *PostgresStorage) Load(ctx context.Context, p path.Path) (*dict.Dict, error) {
	row := s.pool.QueryRow(ctx, "SELECT data FROM "+s.table+" WHERE path = $1", p.String())
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, postgres.ErrNotConnected) {
			return nil, &OpFailed{Op: "load", Path: p.String(), Cause: err}
		}
		return nil, ErrNotFound
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &OpFailed{Op: "load", Path: p.String(), Cause: err}
	}
	return dict.FromMap(m), nil
}

func (s *PostgresStorage) Store(ctx context.Context, p path.Path, data *dict.Dict) error {
	m := make(map[string]any, data.Len())
	for _, k := range data.Keys() {
		if dict.IsComputed(k) {
			continue
		}
		v, _ := data.Get(k)
		m[k] = v
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return &OpFailed{Op: "store", Path: p.String(), Cause: err}
	}
	query := "INSERT INTO " + s.table + " (path, data, is_index) VALUES ($1, $2, $3) " +
		"ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, is_index = EXCLUDED.is_index"
	if _, err := s.pool.Exec(ctx, query, p.String(), raw, p.IsIndex()); err != nil {
		return &OpFailed{Op: "store", Path: p.String(), Cause: err}
	}
	return nil
}

func (s *PostgresStorage) Remove(ctx context.Context, p path.Path) error {
	query := "DELETE FROM " + s.table + " WHERE path = $1 OR path LIKE $2"
	prefix := p.String()
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if _, err := s.pool.Exec(ctx, query, p.String(), prefix+"%"); err != nil {
		return &OpFailed{Op: "remove", Path: p.String(), Cause: err}
	}
	return nil
}

func (s *PostgresStorage) Query(ctx context.Context, base path.Path) ([]path.Path, error) {
	prefix := base.String()
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	rows, err := s.pool.Query(ctx, "SELECT path FROM "+s.table+" WHERE path LIKE $1 ORDER BY path", prefix+"%")
	if err != nil {
		return nil, &OpFailed{Op: "query", Path: base.String(), Cause: err}
	}
	defer rows.Close()

	var out []path.Path
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, &OpFailed{Op: "query", Path: base.String(), Cause: err}
		}
		out = append(out, path.Parse(p))
	}
	return out, rows.Err()
}

func (s *PostgresStorage) Close() error {
	return s.pool.Close()
}
