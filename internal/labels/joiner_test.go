package labels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/warehouse"
)

func seededGateway() *warehouse.MemoryGateway {
	return warehouse.NewMemoryGateway(config.WarehouseConfig{BatchSize: 500, SafetyFactor: 2})
}

func TestJoinLabels_PrimaryCoverageSkipsCascade(t *testing.T) {
	g := seededGateway()
	// 3 of 4 known from primary: unknown fraction 0.25, below threshold.
	g.SetLabel(warehouse.SourcePrimary, "tx-1", 1)
	g.SetLabel(warehouse.SourcePrimary, "tx-2", 0)
	g.SetLabel(warehouse.SourcePrimary, "tx-3", 1)
	// A chargeback label for tx-4 exists but must not be consulted.
	g.SetLabel(warehouse.SourceChargeback, "tx-4", 1)

	j := NewJoiner(g)
	got, err := j.JoinLabels(context.Background(), []string{"tx-1", "tx-2", "tx-3", "tx-4"})
	require.NoError(t, err)

	assert.Len(t, got, 3)
	_, known := got["tx-4"]
	assert.False(t, known, "tx-4 stays unknown when primary coverage is adequate")
}

func TestJoinLabels_CascadeWalksWhenCoverageThin(t *testing.T) {
	g := seededGateway()
	// 1 of 4 known from primary: unknown fraction 0.75, above threshold.
	g.SetLabel(warehouse.SourcePrimary, "tx-1", 1)
	g.SetLabel(warehouse.SourceChargeback, "tx-2", 1)
	g.SetLabel(warehouse.SourceManualReview, "tx-3", 0)

	j := NewJoiner(g)
	got, err := j.JoinLabels(context.Background(), []string{"tx-1", "tx-2", "tx-3", "tx-4"})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"tx-1": 1, "tx-2": 1, "tx-3": 0}, got)
	_, known := got["tx-4"]
	assert.False(t, known, "exhausted cascade leaves the label absent, never imputed")
}

func TestJoinLabels_EarlierSourceWins(t *testing.T) {
	g := seededGateway()
	g.SetLabel(warehouse.SourceChargeback, "tx-1", 1)
	// Conflicting manual-review label for an id the chargeback source
	// already resolved; the cascade only queries still-unknown ids.
	g.SetLabel(warehouse.SourceManualReview, "tx-1", 0)
	g.SetLabel(warehouse.SourceManualReview, "tx-2", 0)

	j := NewJoiner(g)
	got, err := j.JoinLabels(context.Background(), []string{"tx-1", "tx-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tx-1": 1, "tx-2": 0}, got)
}

func TestJoinLabels_EmptyInput(t *testing.T) {
	j := NewJoiner(seededGateway())
	got, err := j.JoinLabels(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
