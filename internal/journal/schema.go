package journal

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS realtime_events (
		event_id    UUID PRIMARY KEY,
		conn_id     TEXT NOT NULL,
		event_type  TEXT NOT NULL DEFAULT '',
		body        JSONB NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS realtime_events_conn_received_idx
		ON realtime_events (conn_id, received_at)`,
	`CREATE INDEX IF NOT EXISTS realtime_events_type_idx
		ON realtime_events (event_type)`,
}

// Migrate creates the journal table and its indexes if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
