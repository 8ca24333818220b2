// Package statestore persists investigation state in the relational
// store. The warehouse is read-only analytical data; this store is the
// system of record for investigations, checkpoints, and resume.
package statestore

import (
	"context"

	"github.com/fraudlens/fraudlens/internal/models"
)

// Store is the investigation persistence contract. Progress is
// append-only: Save never rewrites earlier tool executions, it only
// extends them.
type Store interface {
	// Create inserts a new investigation. The id must be unused.
	Create(ctx context.Context, inv *models.Investigation) error
	// Save checkpoints the full investigation state, bumping Version.
	Save(ctx context.Context, inv *models.Investigation) error
	// Load retrieves an investigation by id.
	Load(ctx context.Context, id string) (*models.Investigation, error)
	// ListResumable returns non-terminal investigations, most recent
	// first.
	ListResumable(ctx context.Context, limit int) ([]models.Investigation, error)
	// ListCompleted returns completed investigations, most recent
	// first. These are the mapping candidates for window evaluation.
	ListCompleted(ctx context.Context, limit int) ([]models.Investigation, error)
	// Close releases the underlying connections.
	Close()
}
