package detectors

import (
	"fmt"
	"math"

	"github.com/fraudlens/fraudlens/internal/models"
)

const (
	// merchantTenureSuppressDays: customers this established represent
	// healthy growth, not anomalies.
	merchantTenureSuppressDays = 90

	anomalyAOVZThreshold   = 3.0
	anomalyKLThreshold     = 0.5
	anomalyNightRatioDelta = 0.25
	nightHourStart         = 0
	nightHourEnd           = 5
)

// MerchantAnomalyDetector compares the window's transactions against a
// per-merchant baseline: average-order-value z-score, BIN-mix KL drift,
// and night-hour ratio. It never runs when the investigated entity is
// the merchant itself: a merchant naturally concentrates its own
// transactions, and that concentration is not anomalous.
type MerchantAnomalyDetector struct{}

// NewMerchantAnomalyDetector creates the merchant-local anomaly detector.
func NewMerchantAnomalyDetector() *MerchantAnomalyDetector {
	return &MerchantAnomalyDetector{}
}

// Name implements Detector.
func (d *MerchantAnomalyDetector) Name() string { return "merchant_anomaly" }

// Detect implements Detector.
func (d *MerchantAnomalyDetector) Detect(in Input) Result {
	result := Result{Name: d.Name()}

	if in.Target.Type == models.EntityMerchant {
		return result
	}
	if in.Baseline == nil || len(in.Transactions) == 0 {
		return result
	}

	// Tenure suppression: only transactions from customers younger than
	// the cutoff participate.
	var eligible []models.Transaction
	for _, tx := range in.Transactions {
		if tenure, ok := in.CustomerTenureDays[tx.EmailNormalized]; ok && tenure >= merchantTenureSuppressDays {
			continue
		}
		eligible = append(eligible, tx)
	}
	if len(eligible) == 0 {
		return result
	}

	var findings []models.Evidence

	if z, ok := aovZScore(eligible, in.Baseline); ok && math.Abs(z) >= anomalyAOVZThreshold {
		findings = append(findings, models.Evidence{
			Type:     models.EvidenceMerchantAnomaly,
			Severity: models.SeverityMedium,
			Source:   d.Name(),
			Detail:   fmt.Sprintf("AOV z-score %.2f against merchant baseline", z),
		})
	}

	if kl, ok := binMixKL(eligible, in.Baseline.BINMix); ok && kl >= anomalyKLThreshold {
		findings = append(findings, models.Evidence{
			Type:     models.EvidenceMerchantAnomaly,
			Severity: models.SeverityMedium,
			Source:   d.Name(),
			Detail:   fmt.Sprintf("BIN-mix KL divergence %.3f from merchant baseline", kl),
		})
	}

	if ratio := nightRatio(eligible); ratio-in.Baseline.NightRatio >= anomalyNightRatioDelta {
		findings = append(findings, models.Evidence{
			Type:     models.EvidenceMerchantAnomaly,
			Severity: models.SeverityLow,
			Source:   d.Name(),
			Detail:   fmt.Sprintf("night-hour ratio %.2f vs baseline %.2f", ratio, in.Baseline.NightRatio),
		})
	}

	if len(findings) > 0 {
		result.Detected = true
		result.Severity = models.SeverityLow
		for _, f := range findings {
			if f.Severity == models.SeverityMedium {
				result.Severity = models.SeverityMedium
			}
		}
		if len(findings) >= 2 {
			result.Severity = models.SeverityHigh
		}
		result.Evidence = findings
	}
	return result
}

func aovZScore(txs []models.Transaction, baseline *MerchantBaseline) (float64, bool) {
	if baseline.AOVStd <= 0 {
		return 0, false
	}
	var sum float64
	for _, tx := range txs {
		sum += tx.Amount
	}
	mean := sum / float64(len(txs))
	return (mean - baseline.AOVMean) / baseline.AOVStd, true
}

// binMixKL computes KL(window || baseline) over BIN shares. BINs absent
// from the baseline get a small floor probability instead of infinity.
func binMixKL(txs []models.Transaction, baselineMix map[string]float64) (float64, bool) {
	if len(baselineMix) == 0 {
		return 0, false
	}
	const floor = 1e-4

	counts := make(map[string]int)
	for _, tx := range txs {
		if tx.BIN != "" {
			counts[tx.BIN]++
		}
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0, false
	}

	var kl float64
	for bin, c := range counts {
		p := float64(c) / float64(total)
		q := baselineMix[bin]
		if q <= 0 {
			q = floor
		}
		kl += p * math.Log(p/q)
	}
	return kl, true
}

func nightRatio(txs []models.Transaction) float64 {
	night := 0
	for _, tx := range txs {
		h := tx.Datetime.Hour()
		if h >= nightHourStart && h <= nightHourEnd {
			night++
		}
	}
	return float64(night) / float64(len(txs))
}
