package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// PostgresStore persists investigations in PostgreSQL. Serialized
// columns (entities, settings, progress, findings) are JSONB; the
// scalar columns exist for indexing and listing.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects using the state configuration.
func NewPostgresStore(ctx context.Context, cfg config.StateConfig) (*PostgresStore, error) {
	if cfg.Host == "" || cfg.Database == "" || cfg.User == "" {
		return nil, errors.Newf(errors.KindConfig,
			"state store credentials missing: host=%s db=%s user=%s", cfg.Host, cfg.Database, cfg.User)
	}

	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password,
	)
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to create state store pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrapf(err, errors.KindInternal,
			"failed to connect to state store at %s:%d", cfg.Host, cfg.Port)
	}

	logger := slog.Default().With("component", "state_store")
	logger.Info("state store connected", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The caller keeps
// ownership of the pool lifecycle.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, logger: slog.Default().With("component", "state_store")}
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, inv *models.Investigation) error {
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	inv.Version = 1

	cols, err := serialize(inv)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO investigation_state (
			id, user_id, status, fail_cause, window_start, window_end,
			entities, settings, progress, findings, version,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.pool.Exec(ctx, query,
		inv.ID, nullable(inv.UserID), string(inv.Status), nullable(inv.FailCause),
		inv.Window.Start, inv.Window.End,
		cols.entities, cols.settings, cols.progress, cols.findings,
		inv.Version, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to create investigation %s", inv.ID)
	}

	s.logger.Debug("investigation created", "id", inv.ID)
	return nil
}

// Save implements Store. The version guard makes concurrent writers
// fail loudly instead of silently interleaving checkpoints.
func (s *PostgresStore) Save(ctx context.Context, inv *models.Investigation) error {
	cols, err := serialize(inv)
	if err != nil {
		return err
	}

	inv.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE investigation_state SET
			status = $2, fail_cause = $3,
			entities = $4, settings = $5, progress = $6, findings = $7,
			version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $9
	`
	tag, err := s.pool.Exec(ctx, query,
		inv.ID, string(inv.Status), nullable(inv.FailCause),
		cols.entities, cols.settings, cols.progress, cols.findings,
		inv.UpdatedAt, inv.Version,
	)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to checkpoint investigation %s", inv.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.KindInternal,
			"stale checkpoint for investigation %s at version %d", inv.ID, inv.Version)
	}
	inv.Version++

	s.logger.Debug("investigation checkpointed",
		"id", inv.ID, "status", inv.Status, "version", inv.Version)
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, id string) (*models.Investigation, error) {
	query := `
		SELECT id, user_id, status, fail_cause, window_start, window_end,
		       entities, settings, progress, findings, version,
		       created_at, updated_at
		FROM investigation_state
		WHERE id = $1
	`
	inv, err := scanInvestigation(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.Newf(errors.KindInvalidFormat, "investigation %s not found", id)
		}
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to load investigation %s", id)
	}
	return inv, nil
}

// ListResumable implements Store.
func (s *PostgresStore) ListResumable(ctx context.Context, limit int) ([]models.Investigation, error) {
	query := `
		SELECT id, user_id, status, fail_cause, window_start, window_end,
		       entities, settings, progress, findings, version,
		       created_at, updated_at
		FROM investigation_state
		WHERE status IN ('pending', 'in_progress')
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to list resumable investigations")
	}
	defer rows.Close()

	var out []models.Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to scan investigation row")
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// ListCompleted implements Store.
func (s *PostgresStore) ListCompleted(ctx context.Context, limit int) ([]models.Investigation, error) {
	query := `
		SELECT id, user_id, status, fail_cause, window_start, window_end,
		       entities, settings, progress, findings, version,
		       created_at, updated_at
		FROM investigation_state
		WHERE status = 'completed'
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to list completed investigations")
	}
	defer rows.Close()

	var out []models.Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to scan investigation row")
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type serialized struct {
	entities, settings, progress, findings []byte
}

func serialize(inv *models.Investigation) (serialized, error) {
	var out serialized
	var err error
	if out.entities, err = json.Marshal(inv.Entities); err != nil {
		return out, errors.Wrap(err, errors.KindInternal, "failed to marshal entities")
	}
	if out.settings, err = json.Marshal(inv.Settings); err != nil {
		return out, errors.Wrap(err, errors.KindInternal, "failed to marshal settings")
	}
	if out.progress, err = json.Marshal(inv.Progress); err != nil {
		return out, errors.Wrap(err, errors.KindInternal, "failed to marshal progress")
	}
	if inv.Findings != nil {
		if out.findings, err = json.Marshal(inv.Findings); err != nil {
			return out, errors.Wrap(err, errors.KindInternal, "failed to marshal findings")
		}
	}
	return out, nil
}

func scanInvestigation(row pgx.Row) (*models.Investigation, error) {
	var (
		inv               models.Investigation
		userID, failCause *string
		status            string
		entitiesJSON      []byte
		settingsJSON      []byte
		progressJSON      []byte
		findingsJSON      []byte
	)
	err := row.Scan(
		&inv.ID, &userID, &status, &failCause,
		&inv.Window.Start, &inv.Window.End,
		&entitiesJSON, &settingsJSON, &progressJSON, &findingsJSON,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Status = models.Status(status)
	if userID != nil {
		inv.UserID = *userID
	}
	if failCause != nil {
		inv.FailCause = *failCause
	}
	if err := json.Unmarshal(entitiesJSON, &inv.Entities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
	}
	if err := json.Unmarshal(settingsJSON, &inv.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &inv.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	if findingsJSON != nil {
		if err := json.Unmarshal(findingsJSON, &inv.Findings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal findings: %w", err)
		}
	}
	return &inv, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
