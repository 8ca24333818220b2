package compare

import (
	"sort"

	"github.com/fraudlens/fraudlens/internal/models"
)

// CurvePoint is the evaluation outcome at one decision threshold.
type CurvePoint struct {
	Threshold float64 `json:"threshold"`
	Flagged   int     `json:"flagged"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// curveThresholds is the fixed sweep used by the report.
var curveThresholds = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

// precisionKs and recallBudgets are the report's fixed operating points.
var (
	precisionKs   = []int{100, 500, 1000}
	recallBudgets = []int{50, 100, 150}
)

// scoredLabeled extracts the transactions usable for ranking metrics:
// those carrying both a prediction and a known label.
func scoredLabeled(txs []models.Transaction) []models.Transaction {
	var out []models.Transaction
	for _, tx := range txs {
		if tx.PredictedRisk != nil && tx.ActualLabel != nil {
			out = append(out, tx)
		}
	}
	// Descending score; ties break on tx id for determinism.
	sort.Slice(out, func(i, j int) bool {
		if *out[i].PredictedRisk != *out[j].PredictedRisk {
			return *out[i].PredictedRisk > *out[j].PredictedRisk
		}
		return out[i].TxID < out[j].TxID
	})
	return out
}

// ThresholdCurve sweeps the fixed thresholds over the scored, labeled
// transactions.
func ThresholdCurve(txs []models.Transaction) []CurvePoint {
	ranked := scoredLabeled(txs)
	if len(ranked) == 0 {
		return nil
	}

	totalFraud := 0
	for _, tx := range ranked {
		if *tx.ActualLabel == 1 {
			totalFraud++
		}
	}

	var out []CurvePoint
	for _, threshold := range curveThresholds {
		tp, fp := 0, 0
		for _, tx := range ranked {
			if *tx.PredictedRisk < threshold {
				continue
			}
			if *tx.ActualLabel == 1 {
				tp++
			} else {
				fp++
			}
		}
		point := CurvePoint{Threshold: threshold, Flagged: tp + fp}
		if tp+fp > 0 {
			point.Precision = float64(tp) / float64(tp+fp)
		}
		if totalFraud > 0 {
			point.Recall = float64(tp) / float64(totalFraud)
		}
		out = append(out, point)
	}
	return out
}

// PrecisionAtK reports the fraud fraction of the k highest-scored
// transactions, for each configured k no larger than the sample.
func PrecisionAtK(txs []models.Transaction) map[int]float64 {
	ranked := scoredLabeled(txs)
	out := make(map[int]float64)
	for _, k := range precisionKs {
		if k > len(ranked) {
			continue
		}
		fraud := 0
		for _, tx := range ranked[:k] {
			if *tx.ActualLabel == 1 {
				fraud++
			}
		}
		out[k] = float64(fraud) / float64(k)
	}
	return out
}

// RecallAtBudget reports, for each review budget, the fraction of all
// known fraud a reviewer working down the ranked list would catch.
func RecallAtBudget(txs []models.Transaction) map[int]float64 {
	ranked := scoredLabeled(txs)
	totalFraud := 0
	for _, tx := range ranked {
		if *tx.ActualLabel == 1 {
			totalFraud++
		}
	}

	out := make(map[int]float64)
	if totalFraud == 0 {
		return out
	}
	for _, budget := range recallBudgets {
		n := budget
		if n > len(ranked) {
			n = len(ranked)
		}
		caught := 0
		for _, tx := range ranked[:n] {
			if *tx.ActualLabel == 1 {
				caught++
			}
		}
		out[budget] = float64(caught) / float64(totalFraud)
	}
	return out
}
