package compare

import (
	"math"
	"sort"
)

// wilsonZ is the 95% two-sided normal quantile used for the interval.
const wilsonZ = 1.96

// WideCIWidth is the interval width above which a fraud-rate estimate
// is flagged as too uncertain to act on.
const WideCIWidth = 0.10

// WilsonInterval is the score interval for a binomial proportion. It
// behaves sanely at small n and at rates near 0 or 1, which is exactly
// where fraud rates live.
func WilsonInterval(successes, n int) (low, high float64) {
	if n == 0 {
		return 0, 1
	}
	p := float64(successes) / float64(n)
	z2 := wilsonZ * wilsonZ
	denom := 1 + z2/float64(n)
	center := (p + z2/(2*float64(n))) / denom
	margin := wilsonZ * math.Sqrt(p*(1-p)/float64(n)+z2/(4*float64(n)*float64(n))) / denom

	low = center - margin
	high = center + margin
	if low < 0 {
		low = 0
	}
	if high > 1 {
		high = 1
	}
	return low, high
}

// psiBins is the number of equal-width bins the PSI uses over [0, 1].
const psiBins = 10

// psiFloor replaces zero bin proportions so the log term stays finite.
const psiFloor = 1e-4

// psiMinSample is the per-side scored count below which the PSI is not
// reported.
const psiMinSample = 10

// PSI computes the population stability index between two score
// samples over ten equal-width bins on [0, 1]. Returns false when
// either side is under the minimum sample size.
func PSI(a, b []float64) (float64, bool) {
	if len(a) < psiMinSample || len(b) < psiMinSample {
		return 0, false
	}

	propA := binProportions(a)
	propB := binProportions(b)

	var psi float64
	for i := 0; i < psiBins; i++ {
		pa, pb := propA[i], propB[i]
		if pa < psiFloor {
			pa = psiFloor
		}
		if pb < psiFloor {
			pb = psiFloor
		}
		psi += (pb - pa) * math.Log(pb/pa)
	}
	return psi, true
}

func binProportions(scores []float64) [psiBins]float64 {
	var counts [psiBins]int
	for _, s := range scores {
		idx := int(s * psiBins)
		if idx >= psiBins {
			idx = psiBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}
	var out [psiBins]float64
	for i, c := range counts {
		out[i] = float64(c) / float64(len(scores))
	}
	return out
}

// ksMinSample is the per-side sample size below which the KS statistic
// is not reported.
const ksMinSample = 10

// KS computes the two-sample Kolmogorov-Smirnov statistic. Returns
// false when either side is under the minimum sample size.
func KS(a, b []float64) (float64, bool) {
	if len(a) < ksMinSample || len(b) < ksMinSample {
		return 0, false
	}

	sa := append([]float64(nil), a...)
	sb := append([]float64(nil), b...)
	sort.Float64s(sa)
	sort.Float64s(sb)

	var d float64
	i, j := 0, 0
	for i < len(sa) && j < len(sb) {
		switch {
		case sa[i] < sb[j]:
			i++
		case sb[j] < sa[i]:
			j++
		default:
			// Tied values advance both ECDFs together.
			v := sa[i]
			for i < len(sa) && sa[i] == v {
				i++
			}
			for j < len(sb) && sb[j] == v {
				j++
			}
		}
		fa := float64(i) / float64(len(sa))
		fb := float64(j) / float64(len(sb))
		if diff := math.Abs(fa - fb); diff > d {
			d = diff
		}
	}
	return d, true
}
