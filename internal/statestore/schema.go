package statestore

import (
	"context"

	"github.com/fraudlens/fraudlens/internal/errors"
)

// schema is the investigation state DDL. Applied idempotently at
// startup; production deployments may manage this externally.
const schema = `
CREATE TABLE IF NOT EXISTS investigation_state (
	id           TEXT PRIMARY KEY,
	user_id      TEXT,
	status       TEXT NOT NULL,
	fail_cause   TEXT,
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ NOT NULL,
	entities     JSONB NOT NULL,
	settings     JSONB NOT NULL,
	progress     JSONB NOT NULL,
	findings     JSONB,
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_investigation_state_status
	ON investigation_state (status, updated_at DESC);
`

// EnsureSchema creates the investigation state table if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to ensure state schema")
	}
	return nil
}
