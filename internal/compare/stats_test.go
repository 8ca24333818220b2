package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWilsonInterval(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		n         int
		wantLow   float64
		wantHigh  float64
	}{
		// Reference values computed from the score-interval formula at
		// z = 1.96.
		{"half of a hundred", 50, 100, 0.4038, 0.5962},
		{"rare event", 1, 100, 0.0018, 0.0545},
		{"zero successes", 0, 50, 0.0, 0.0715},
		{"all successes", 20, 20, 0.8389, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, high := WilsonInterval(tt.successes, tt.n)
			assert.InDelta(t, tt.wantLow, low, 0.002)
			assert.InDelta(t, tt.wantHigh, high, 0.002)
			assert.GreaterOrEqual(t, low, 0.0)
			assert.LessOrEqual(t, high, 1.0)
		})
	}
}

func TestWilsonInterval_EmptySample(t *testing.T) {
	low, high := WilsonInterval(0, 0)
	assert.Zero(t, low)
	assert.Equal(t, 1.0, high)
}

func TestWilsonInterval_NarrowsWithSampleSize(t *testing.T) {
	lowSmall, highSmall := WilsonInterval(5, 50)
	lowBig, highBig := WilsonInterval(500, 5000)
	assert.Greater(t, highSmall-lowSmall, highBig-lowBig)
}

func TestPSI(t *testing.T) {
	uniform := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(i%10)/10 + 0.05
		}
		return out
	}

	t.Run("identical distributions are stable", func(t *testing.T) {
		psi, ok := PSI(uniform(100), uniform(100))
		assert.True(t, ok)
		assert.InDelta(t, 0, psi, 1e-9)
	})

	t.Run("shifted distribution drifts", func(t *testing.T) {
		low := make([]float64, 100)
		high := make([]float64, 100)
		for i := range low {
			low[i] = 0.1
			high[i] = 0.9
		}
		psi, ok := PSI(low, high)
		assert.True(t, ok)
		assert.Greater(t, psi, 0.25, "a full population shift is major drift")
	})

	t.Run("empty side reports unavailable", func(t *testing.T) {
		_, ok := PSI(nil, uniform(10))
		assert.False(t, ok)
		_, ok = PSI(uniform(10), nil)
		assert.False(t, ok)
	})

	t.Run("under minimum sample per side", func(t *testing.T) {
		_, ok := PSI(uniform(9), uniform(100))
		assert.False(t, ok)
		_, ok = PSI(uniform(100), uniform(9))
		assert.False(t, ok)

		_, ok = PSI(uniform(10), uniform(10))
		assert.True(t, ok, "ten scored per side is the reporting floor")
	})
}

func TestBinProportions_EdgeScores(t *testing.T) {
	props := binProportions([]float64{0.0, 1.0, 0.999, 0.05})

	// 1.0 lands in the top bin, 0.0 in the bottom.
	assert.InDelta(t, 0.5, props[0], 1e-9)         // 0.0 and 0.05
	assert.InDelta(t, 0.5, props[psiBins-1], 1e-9) // 1.0 and 0.999
}

func TestKS(t *testing.T) {
	seq := func(n int, base float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = base + float64(i)/float64(n)*0.1
		}
		return out
	}

	t.Run("identical samples", func(t *testing.T) {
		a := seq(20, 0.2)
		ks, ok := KS(a, a)
		assert.True(t, ok)
		assert.InDelta(t, 0, ks, 1e-9)
	})

	t.Run("disjoint samples max out", func(t *testing.T) {
		ks, ok := KS(seq(20, 0.1), seq(20, 0.8))
		assert.True(t, ok)
		assert.InDelta(t, 1.0, ks, 1e-9)
	})

	t.Run("under minimum sample per side", func(t *testing.T) {
		_, ok := KS(seq(9, 0.1), seq(20, 0.8))
		assert.False(t, ok)
		_, ok = KS(seq(20, 0.1), seq(9, 0.8))
		assert.False(t, ok)
	})
}
