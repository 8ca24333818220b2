package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flens.log")
	logger, err := NewLogger(Config{Level: INFO, OutputFile: path})
	require.NoError(t, err)
	return logger, path
}

func TestLogger_WritesToFile(t *testing.T) {
	logger, path := fileLogger(t)
	logger.Info("gateway connected", "provider", "postgresql")
	require.NoError(t, logger.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "gateway connected")
}

func TestLogger_WithSharesOutput(t *testing.T) {
	logger, path := fileLogger(t)

	derived := logger.With("component", "warehouse")
	derived.Info("query issued")
	logger.Info("parent still writes")

	// Derived loggers share the parent's file state: one Close, through
	// either handle, closes the single underlying file.
	assert.Same(t, logger.out, derived.out)
	require.NoError(t, derived.Close())
	require.NoError(t, logger.Close(), "second close through the parent is a no-op")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "component=warehouse")
	assert.Contains(t, string(raw), "parent still writes")
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	logger, _ := fileLogger(t)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestLogger_StdoutOnly(t *testing.T) {
	logger, err := NewLogger(Config{Level: DEBUG})
	require.NoError(t, err)
	logger.Debug("no file configured")
	assert.NoError(t, logger.Close())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(true)
	assert.Equal(t, DEBUG, cfg.Level)
	assert.True(t, cfg.AddSource)
	assert.False(t, cfg.JSONFormat)
	assert.True(t, strings.HasPrefix(filepath.Base(cfg.OutputFile), "flens_"))

	cfg = DefaultConfig(false)
	assert.Equal(t, INFO, cfg.Level)
	assert.True(t, cfg.JSONFormat)
}
