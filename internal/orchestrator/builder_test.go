package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

func validRequest() Request {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	return Request{
		UserID: "analyst-7",
		Entities: []RawEntity{
			{Type: models.EntityEmail, Value: "  Jane@Example.COM "},
			{Type: models.EntityDevice, Value: "dev-1"},
		},
		Window: models.Window{Start: end.AddDate(0, 0, -14), End: end},
	}
}

func TestNewInvestigation(t *testing.T) {
	cfg := testConfig()
	inv, err := NewInvestigation(cfg, validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, "analyst-7", inv.UserID)
	assert.Equal(t, models.StatusPending, inv.Status)

	require.Len(t, inv.Entities, 2)
	assert.Equal(t, "jane@example.com", inv.Entities[0].NormalizedValue)
	assert.Equal(t, "dev-1", inv.Entities[1].NormalizedValue)

	assert.Equal(t, cfg.Engine.RiskThreshold, inv.Settings.RiskThreshold)
	assert.Equal(t, string(cfg.Warehouse.DecisionFilter), inv.Settings.DecisionFilter)
	assert.Equal(t, ModelVersion, inv.Settings.ModelVersion)
	assert.Equal(t, cfg.Engine.RecursionLimit, inv.Settings.RecursionLimit)
	assert.False(t, inv.Settings.Parallel)
}

func TestNewInvestigation_ParallelOverride(t *testing.T) {
	cfg := testConfig()
	req := validRequest()
	parallel := true
	req.Parallel = &parallel

	inv, err := NewInvestigation(cfg, req)
	require.NoError(t, err)
	assert.True(t, inv.Settings.Parallel)
}

func TestNewInvestigation_Rejections(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr string
	}{
		{
			name:    "no entities",
			mutate:  func(r *Request) { r.Entities = nil },
			wantErr: "at least one entity",
		},
		{
			name: "empty window",
			mutate: func(r *Request) {
				r.Window.End = r.Window.Start
			},
			wantErr: "is empty",
		},
		{
			name: "window beyond lookback bound",
			mutate: func(r *Request) {
				r.Window.Start = time.Now().AddDate(0, -8, 0)
			},
			wantErr: "lookback bound",
		},
		{
			name: "unnormalizable entity",
			mutate: func(r *Request) {
				r.Entities = []RawEntity{{Type: models.EntityEmail, Value: "   "}}
			},
			wantErr: "cannot normalize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := NewInvestigation(cfg, req)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidFormat))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
