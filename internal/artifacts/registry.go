package artifacts

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fraudlens/fraudlens/internal/errors"
)

// Record is one canonical artifact row in the registry.
type Record struct {
	Path            string
	Type            string
	InvestigationID string
	CreatedAt       time.Time
}

// ViewRecord is one entity-view row in the registry.
type ViewRecord struct {
	Path            string
	EntityType      string
	EntityID        string
	InvestigationID string
	CreatedAt       time.Time
}

// Registry is the sqlite index over the workspace. It answers "which
// artifacts exist for this entity" without walking the tree.
type Registry struct {
	db *sql.DB
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	path             TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	investigation_id TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_investigation ON artifacts (investigation_id);

CREATE TABLE IF NOT EXISTS entity_views (
	path             TEXT PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	entity_id        TEXT NOT NULL,
	investigation_id TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_views_entity ON entity_views (entity_type, entity_id);
`

// OpenRegistry opens (or creates) the registry database at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to open registry %s", path)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "failed to initialize registry schema")
	}
	return &Registry{db: db}, nil
}

// RecordArtifact upserts one canonical artifact row.
func (r *Registry) RecordArtifact(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (path, type, investigation_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET created_at = excluded.created_at`,
		rec.Path, rec.Type, rec.InvestigationID, rec.CreatedAt)
	return errors.Wrap(err, errors.KindInternal, "failed to record artifact")
}

// RecordView upserts one entity-view row.
func (r *Registry) RecordView(ctx context.Context, rec ViewRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_views (path, entity_type, entity_id, investigation_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET created_at = excluded.created_at`,
		rec.Path, rec.EntityType, rec.EntityID, rec.InvestigationID, rec.CreatedAt)
	return errors.Wrap(err, errors.KindInternal, "failed to record entity view")
}

// ArtifactsForEntity lists artifacts reachable from one entity, newest
// first.
func (r *Registry) ArtifactsForEntity(ctx context.Context, entityType, entityID string) ([]ViewRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT path, entity_type, entity_id, investigation_id, created_at
		FROM entity_views
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC`,
		entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to query entity views")
	}
	defer rows.Close()

	var out []ViewRecord
	for rows.Next() {
		var rec ViewRecord
		if err := rows.Scan(&rec.Path, &rec.EntityType, &rec.EntityID,
			&rec.InvestigationID, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to scan entity view")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ArtifactsForInvestigation lists canonical artifacts for one
// investigation.
func (r *Registry) ArtifactsForInvestigation(ctx context.Context, invID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT path, type, investigation_id, created_at
		FROM artifacts
		WHERE investigation_id = ?
		ORDER BY created_at DESC`,
		invID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to query artifacts")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Path, &rec.Type, &rec.InvestigationID, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to scan artifact")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the registry database.
func (r *Registry) Close() error {
	return r.db.Close()
}
