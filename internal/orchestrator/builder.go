package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/entity"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// Request is the raw input to a new investigation, as it arrives from
// the CLI or an API caller. Entity values are unnormalized.
type Request struct {
	UserID   string
	Entities []RawEntity
	Window   models.Window
	Parallel *bool // nil means use the configured default
}

// RawEntity pairs an entity type with its raw, user-supplied value.
type RawEntity struct {
	Type  models.EntityType
	Value string
}

// ModelVersion identifies the scoring logic written into predictions.
const ModelVersion = "fraudlens-v1"

// NewInvestigation validates and normalizes a request into a pending
// investigation. Normalization failures are invalid-format errors and
// reject the request before anything is persisted.
func NewInvestigation(cfg *config.Config, req Request) (*models.Investigation, error) {
	if len(req.Entities) == 0 {
		return nil, errors.New(errors.KindInvalidFormat, "investigation requires at least one entity")
	}
	if req.Window.IsZeroLength() {
		return nil, errors.Newf(errors.KindInvalidFormat,
			"investigation window [%s, %s) is empty",
			req.Window.Start.Format(time.RFC3339), req.Window.End.Format(time.RFC3339))
	}
	maxLookback := time.Now().AddDate(0, -cfg.Engine.MaxLookbackMonths, 0)
	if req.Window.Start.Before(maxLookback) {
		return nil, errors.Newf(errors.KindInvalidFormat,
			"window start %s exceeds the %d-month lookback bound",
			req.Window.Start.Format("2006-01-02"), cfg.Engine.MaxLookbackMonths)
	}

	entities := make([]models.Entity, 0, len(req.Entities))
	for _, raw := range req.Entities {
		e, err := entity.Normalize(raw.Type, raw.Value)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	parallel := cfg.Engine.Parallel
	if req.Parallel != nil {
		parallel = *req.Parallel
	}

	return &models.Investigation{
		ID:       uuid.NewString(),
		UserID:   req.UserID,
		Entities: entities,
		Window:   req.Window,
		Status:   models.StatusPending,
		Settings: models.Settings{
			Parallel:       parallel,
			RiskThreshold:  cfg.Engine.RiskThreshold,
			DecisionFilter: string(cfg.Warehouse.DecisionFilter),
			ModelVersion:   ModelVersion,
			RecursionLimit: cfg.Engine.RecursionLimit,
		},
	}, nil
}
