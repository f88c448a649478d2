package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const createEventsTable = `
	CREATE TABLE IF NOT EXISTS realtime_events (
		event_id      uuid PRIMARY KEY,
		connection_id text NOT NULL,
		type          text,
		payload       jsonb NOT NULL,
		received_at   timestamptz NOT NULL
	)
`

const createEventsIndex = `
	CREATE INDEX IF NOT EXISTS realtime_events_conn_received_idx
	ON realtime_events (connection_id, received_at)
`

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the realtime_events table and its index if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range []string{createEventsTable, createEventsIndex} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
	}
	return nil
}
