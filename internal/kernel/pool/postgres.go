package pool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresChannel wraps a single pgx.Conn as a pooled Channel. The
// kernel's pool owns one physical connection per Channel rather than
// leasing from a pgxpool.Pool, so pgxpool's own pooling semantics stay
// out of the kernel's idle/eviction bookkeeping; NewPostgresFactory dials
// each connection with a single pgx.Connect call and does not retry.
type PostgresChannel struct {
	conn *pgx.Conn
}

// NewPostgresFactory returns a Factory that dials a fresh pgx.Conn
// against dsn for each new pooled channel.
func NewPostgresFactory(dsn string) Factory {
	return func(ctx context.Context) (Channel, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres channel: connect: %w", err)
		}
		return &PostgresChannel{conn: conn}, nil
	}
}

// Conn exposes the underlying connection for procedure bindings that
// need to issue queries.
func (c *PostgresChannel) Conn() *pgx.Conn { return c.conn }

func (c *PostgresChannel) Validate(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *PostgresChannel) Close() error {
	return c.conn.Close(context.Background())
}
