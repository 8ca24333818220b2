package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalKinds(t *testing.T) {
	tests := []struct {
		kind  Kind
		fatal bool
	}{
		{KindWarehouseUnavailable, true},
		{KindTimeout, true},
		{KindLLMContextLengthExceeded, true},
		{KindLLMModelNotFound, true},
		{KindLLMAPIError, true},
		{KindRecursionLimit, true},
		{KindCancelled, true},
		{KindInternal, true},
		{KindAnalyzerFailure, false},
		{KindInvalidFormat, false},
		{KindTooManyRows, false},
		{KindNoAnalysisData, false},
		{KindInsufficientDataWindowA, false},
		{KindInsufficientDataWindowB, false},
		{KindInsufficientDataBothWindows, false},
		{KindConfig, false},
	}

	for _, tt := range tests {
		t.Run(kindString(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "boom")
			assert.Equal(t, tt.fatal, err.Fatal())
			assert.Equal(t, tt.fatal, IsFatal(err))
		})
	}
}

func TestIsFatal_UnknownErrors(t *testing.T) {
	assert.False(t, IsFatal(nil))
	// Errors outside the taxonomy terminate the investigation.
	assert.True(t, IsFatal(stderrors.New("plain failure")))
}

func TestWrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, KindWarehouseUnavailable, "query failed")

	require.NotNil(t, err)
	assert.Equal(t, "query failed: connection refused", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, IsKind(err, KindWarehouseUnavailable))

	assert.Nil(t, Wrap(nil, KindInternal, "ignored"))
	assert.Nil(t, Wrapf(nil, KindInternal, "ignored %d", 1))
}

func TestIsKind_WalksChain(t *testing.T) {
	inner := New(KindTooManyRows, "12000 rows")
	wrapped := fmt.Errorf("gateway: %w", inner)

	assert.True(t, IsKind(wrapped, KindTooManyRows))
	assert.False(t, IsKind(wrapped, KindTimeout))
	assert.Equal(t, KindTooManyRows, GetKind(wrapped))
	assert.Equal(t, KindInternal, GetKind(stderrors.New("untyped")))
}

func TestErrorIs_MatchesOnKind(t *testing.T) {
	a := New(KindCancelled, "ctrl-c")
	b := New(KindCancelled, "different message")
	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, New(KindTimeout, "deadline")))
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "RECURSION_LIMIT", New(KindRecursionLimit, "cap").Category())
	assert.Equal(t, "CANCELLED", New(KindCancelled, "stop").Category())
	assert.Equal(t, "INSUFFICIENT_DATA_BOTH_WINDOWS",
		New(KindInsufficientDataBothWindows, "empty").Category())
}

func TestWithContext(t *testing.T) {
	err := New(KindAnalyzerFailure, "siem down").
		WithContext("domain", "logs").
		WithContext("attempt", 2)

	s := err.DetailedString()
	assert.Contains(t, s, "[ANALYZER_FAILURE]")
	assert.Contains(t, s, "domain=logs")
	assert.Contains(t, s, "attempt=2")
}
