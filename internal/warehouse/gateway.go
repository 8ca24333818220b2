package warehouse

import (
	"context"
	"fmt"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/entity"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// LabelSource identifies one source in the ground-truth cascade.
type LabelSource string

const (
	SourcePrimary      LabelSource = "primary"
	SourceChargeback   LabelSource = "chargeback"
	SourceManualReview LabelSource = "manual_review"
	SourceExternal     LabelSource = "external"
)

// LabelCascade is the fixed fallback order for ground-truth lookups.
var LabelCascade = []LabelSource{SourcePrimary, SourceChargeback, SourceManualReview, SourceExternal}

// Gateway is the analytical warehouse surface the core consumes. Both
// implementations (SQL and in-memory) honor the same contracts: IN lists
// above the batch size are chunked into independent queries whose results
// are concatenated preserving input order, and result sets exceeding
// len(inputs) x safety_factor are truncated with a logged warning.
type Gateway interface {
	// Transactions fetches the transactions matching the compound entity
	// inside the half-open window, subject to the decision filter mode.
	// Implementations build the dialect-specific predicate themselves.
	Transactions(ctx context.Context, target models.CompoundEntity, w models.Window, mode config.DecisionFilterMode) ([]models.Transaction, error)

	// Labels fetches ground-truth labels for the given transaction ids
	// from one source. Deliberately unfiltered by window: labels are
	// populated at fraud-detection time and can lag transaction time by
	// arbitrary intervals, so a window filter here silently loses labels.
	Labels(ctx context.Context, txIDs []string, source LabelSource) (map[string]int, error)

	// UpsertPredictions writes one row per tx_id, insert-or-replace.
	UpsertPredictions(ctx context.Context, preds []models.Prediction) error

	// Dialect reports the column naming convention for predicates.
	Dialect() entity.Dialect

	// Ping verifies connectivity; failure means WarehouseUnavailable.
	Ping(ctx context.Context) error

	Close() error
}

// DecisionFilterSQL renders the decision filter for a mode. FINALIZED is
// permissive on NULL because IS_FRAUD labels may exist for
// historically-approved transactions whose decision has since been
// nulled; APPROVED_ONLY keeps the strict equality the risk-analyzer path
// needs.
func DecisionFilterSQL(mode config.DecisionFilterMode, dialect entity.Dialect) string {
	col := "decision"
	if dialect == entity.DialectColumnar {
		col = "DECISION"
	}
	switch mode {
	case config.FilterApprovedOnly:
		return fmt.Sprintf("UPPER(%s) = 'APPROVED'", col)
	case config.FilterAll:
		return "1=1"
	default: // FINALIZED
		return fmt.Sprintf("(UPPER(%s) IN ('APPROVED','AUTHORIZED','SETTLED') OR %s IS NULL)", col, col)
	}
}

// DecisionPasses applies the filter mode to a decoded transaction. Used
// by the in-memory gateway and by confusion-matrix exclusion counting.
func DecisionPasses(d *models.Decision, mode config.DecisionFilterMode) bool {
	switch mode {
	case config.FilterAll:
		return true
	case config.FilterApprovedOnly:
		return d != nil && *d == models.DecisionApproved
	default: // FINALIZED
		if d == nil {
			return true
		}
		switch *d {
		case models.DecisionApproved, models.DecisionAuthorized, models.DecisionSettled:
			return true
		}
		return false
	}
}

// ctxError maps a context error to the taxonomy.
func ctxError(err error) error {
	if err == context.DeadlineExceeded {
		return errors.Wrap(err, errors.KindTimeout, "warehouse query timed out")
	}
	return errors.Wrap(err, errors.KindCancelled, "warehouse query cancelled")
}

// chunk splits ids into batches of at most size, preserving order.
func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
