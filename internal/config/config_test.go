package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ProviderPostgreSQL, cfg.Warehouse.Provider)
	assert.Equal(t, 500, cfg.Warehouse.BatchSize)
	assert.Equal(t, 2, cfg.Warehouse.SafetyFactor)
	assert.Equal(t, FilterFinalized, cfg.Warehouse.DecisionFilter)
	assert.Equal(t, 0.3, cfg.Engine.RiskThreshold)
	assert.Equal(t, 300*time.Second, cfg.Engine.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Warehouse.Provider = "oracle" },
			wantErr: "DATABASE_PROVIDER",
		},
		{
			name:    "unknown decision filter",
			mutate:  func(c *Config) { c.Warehouse.DecisionFilter = "SOME" },
			wantErr: "TRANSACTION_DECISION_FILTER",
		},
		{
			name:    "risk threshold above one",
			mutate:  func(c *Config) { c.Engine.RiskThreshold = 1.5 },
			wantErr: "RISK_THRESHOLD_DEFAULT",
		},
		{
			name:    "negative risk threshold",
			mutate:  func(c *Config) { c.Engine.RiskThreshold = -0.1 },
			wantErr: "RISK_THRESHOLD_DEFAULT",
		},
		{
			name:    "bad group by",
			mutate:  func(c *Config) { c.Engine.DefaultGroupBy = "MERCHANT" },
			wantErr: "ANALYTICS_DEFAULT_GROUP_BY",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Warehouse.BatchSize = 0 },
			wantErr: "ISFRAUD_BATCH_SIZE",
		},
		{
			name:    "lookback too long",
			mutate:  func(c *Config) { c.Engine.MaxLookbackMonths = 7 },
			wantErr: "ANALYTICS_MAX_LOOKBACK_MONTHS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "SNOWFLAKE")
	t.Setenv("ISFRAUD_BATCH_SIZE", "250")
	t.Setenv("TRANSACTION_DECISION_FILTER", "approved_only")
	t.Setenv("RISK_THRESHOLD_DEFAULT", "0.45")
	t.Setenv("ANALYTICS_DEFAULT_GROUP_BY", "device_id")

	cfg := Default()
	assert.Equal(t, ProviderSnowflake, cfg.Warehouse.Provider)
	assert.Equal(t, 250, cfg.Warehouse.BatchSize)
	assert.Equal(t, FilterApprovedOnly, cfg.Warehouse.DecisionFilter)
	assert.Equal(t, 0.45, cfg.Engine.RiskThreshold)
	assert.Equal(t, "DEVICE_ID", cfg.Engine.DefaultGroupBy)
	require.NoError(t, cfg.Validate())
}

func TestDetectMode(t *testing.T) {
	t.Setenv("TEST_MODE", "")
	assert.Equal(t, ModeLive, DetectMode())
	assert.False(t, IsDemo())

	t.Setenv("TEST_MODE", "demo")
	assert.Equal(t, ModeDemo, DetectMode())
	assert.True(t, IsDemo())

	t.Setenv("TEST_MODE", "DEMO")
	assert.Equal(t, ModeDemo, DetectMode())
}

func TestRecursionLimits(t *testing.T) {
	assert.Equal(t, 120, ModeLive.RecursionLimit())
	assert.Equal(t, 150, ModeDemo.RecursionLimit())
}

func TestModeSetsRecursionLimit(t *testing.T) {
	t.Setenv("TEST_MODE", "demo")
	cfg := Default()
	assert.Equal(t, ModeDemo, cfg.Mode)
	assert.Equal(t, RecursionLimitDemo, cfg.Engine.RecursionLimit)
}

func TestAnalyzerConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Warehouse.PoolSize = 8
	assert.Equal(t, 7, cfg.AnalyzerConcurrency())

	cfg.Warehouse.PoolSize = 1
	assert.Equal(t, 1, cfg.AnalyzerConcurrency())

	cfg.Warehouse.PoolSize = 0
	assert.Equal(t, 1, cfg.AnalyzerConcurrency())
}
