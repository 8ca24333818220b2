package compare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

func TestRecent14d(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-03-15 18:30 UTC is 2026-03-15 14:30 in New York.
	now := time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)

	w, err := Recent14d(now)
	require.NoError(t, err)

	wantEnd := time.Date(2026, 3, 15, 0, 0, 0, 0, loc)
	assert.True(t, w.End.Equal(wantEnd), "window ends at the most recent local midnight")
	assert.True(t, w.Start.Equal(wantEnd.AddDate(0, 0, -14)))
	assert.Equal(t, "recent_14d", w.Label)
}

func TestRecent14d_UTCEveningIsStillSameLocalDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 03:30 UTC on the 16th is still the evening of the 15th in New York,
	// so the window must end at midnight of the 15th.
	now := time.Date(2026, 3, 16, 3, 30, 0, 0, time.UTC)

	w, err := Recent14d(now)
	require.NoError(t, err)
	assert.True(t, w.End.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, loc)))
}

func TestRetro(t *testing.T) {
	now := time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)

	w, err := Retro(now, 3, 6)
	require.NoError(t, err)
	assert.Equal(t, "retro", w.Label)
	assert.Equal(t, 14, windowDays(w))

	recent, err := Recent14d(now)
	require.NoError(t, err)
	assert.True(t, w.End.Equal(recent.Start.AddDate(0, -3, 0)))
}

func TestRetro_OffsetBounds(t *testing.T) {
	now := time.Now()

	_, err := Retro(now, 0, 6)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidFormat))

	_, err = Retro(now, 7, 6)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidFormat))
}

func TestAutoExpand(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	w := models.Window{Start: start, End: start.AddDate(0, 0, 14)}
	floor := start.AddDate(0, -6, 0)
	min := supportThresholds{MinTransactions: 50, MinFrauds: 5, MinPredicted: 10}
	full := windowSupport{Transactions: 60, Frauds: 6, Predicted: 20}

	t.Run("adequate support skips expansion", func(t *testing.T) {
		calls := 0
		got, meta, err := autoExpand(w, min, floor, func(models.Window) (windowSupport, error) {
			calls++
			return full, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.False(t, meta.Applied)
		assert.True(t, got.Start.Equal(w.Start))
		assert.Equal(t, []int{14}, meta.AttemptDays)
	})

	// Each criterion forces expansion on its own, even when the other
	// two are comfortably met.
	thinCases := []struct {
		name string
		thin windowSupport
	}{
		{name: "thin transaction count", thin: windowSupport{Transactions: 10, Frauds: 6, Predicted: 20}},
		{name: "thin fraud count", thin: windowSupport{Transactions: 60, Frauds: 3, Predicted: 20}},
		{name: "thin predicted count", thin: windowSupport{Transactions: 60, Frauds: 6, Predicted: 2}},
	}
	for _, tc := range thinCases {
		t.Run(tc.name+" expands in week steps", func(t *testing.T) {
			got, meta, err := autoExpand(w, min, floor, func(cand models.Window) (windowSupport, error) {
				if windowDays(cand) >= 28 {
					return full, nil
				}
				return tc.thin, nil
			})
			require.NoError(t, err)
			assert.True(t, meta.Applied)
			assert.Equal(t, 28, windowDays(got))
			assert.Equal(t, []int{14, 21, 28}, meta.AttemptDays)
			assert.True(t, got.End.Equal(w.End), "only the start moves")
		})
	}

	t.Run("caps at the maximum window", func(t *testing.T) {
		got, meta, err := autoExpand(w, min, floor.AddDate(-1, 0, 0), func(models.Window) (windowSupport, error) {
			return windowSupport{}, nil
		})
		require.NoError(t, err)
		assert.True(t, meta.Applied)
		assert.LessOrEqual(t, windowDays(got), maxWindowDays)
		// 14 + 23*7 = 175; one more step would cross 180.
		assert.Equal(t, 175, windowDays(got))
	})

	t.Run("stops at the lookback floor", func(t *testing.T) {
		tightFloor := start.AddDate(0, 0, -10)
		got, _, err := autoExpand(w, min, tightFloor, func(models.Window) (windowSupport, error) {
			return windowSupport{}, nil
		})
		require.NoError(t, err)
		// Only one 7-day step fits before crossing the floor.
		assert.Equal(t, 21, windowDays(got))
	})

	t.Run("fetch failure propagates", func(t *testing.T) {
		wantErr := errors.New(errors.KindWarehouseUnavailable, "down")
		_, _, err := autoExpand(w, min, floor, func(models.Window) (windowSupport, error) {
			return windowSupport{}, wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	})
}
