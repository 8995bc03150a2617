package pool

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteChannel wraps one *sql.DB opened against a single file. The
// server's startup wiring does not build a sqlite channel pool.
type SQLiteChannel struct {
	db *sql.DB
}

// NewSQLiteFactory returns a Factory opening dsn (a sqlite3 DSN, e.g. a
// file path with query parameters) as a single-connection *sql.DB per
// pooled channel.
func NewSQLiteFactory(dsn string) Factory {
	return func(ctx context.Context) (Channel, error) {
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("sqlite channel: open: %w", err)
		}
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite channel: ping: %w", err)
		}
		return &SQLiteChannel{db: db}, nil
	}
}

// DB exposes the underlying handle for procedure bindings.
func (c *SQLiteChannel) DB() *sql.DB { return c.db }

func (c *SQLiteChannel) Validate(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLiteChannel) Close() error {
	return c.db.Close()
}
