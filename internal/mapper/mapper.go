// Package mapper connects completed investigations back to individual
// transactions. Its two jobs: pick the best prior investigation for a
// window, and project that investigation's per-transaction scores onto
// the window's transactions for evaluation.
package mapper

import (
	"context"
	"log/slog"
	"sort"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/labels"
	"github.com/fraudlens/fraudlens/internal/models"
	"github.com/fraudlens/fraudlens/internal/warehouse"
)

// Mapper projects investigation scores onto transactions.
type Mapper struct {
	gw     warehouse.Gateway
	joiner *labels.Joiner
	logger *slog.Logger
}

// New creates a mapper.
func New(gw warehouse.Gateway, joiner *labels.Joiner) *Mapper {
	return &Mapper{
		gw:     gw,
		joiner: joiner,
		logger: slog.Default().With("component", "mapper"),
	}
}

// SelectBest picks the completed investigation whose analysis best
// covers the evaluation window. Ranking: window coverage then recency;
// full ties break on higher window overlap, then model version string
// descending so newer scoring logic wins.
func (m *Mapper) SelectBest(ctx context.Context, candidates []models.Investigation, window models.Window) (*models.Investigation, error) {
	var eligible []models.Investigation
	for _, inv := range candidates {
		if inv.Status != models.StatusCompleted {
			continue
		}
		if len(inv.Progress.TransactionScores) == 0 {
			continue
		}
		eligible = append(eligible, inv)
	}
	if len(eligible) == 0 {
		return nil, errors.New(errors.KindNoAnalysisData,
			"no completed investigation with transaction scores covers the window")
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]

		aCovers, bCovers := a.Window.Covers(window), b.Window.Covers(window)
		if aCovers != bCovers {
			return aCovers
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		aOv, bOv := a.Window.Overlap(window), b.Window.Overlap(window)
		if aOv != bOv {
			return aOv > bOv
		}
		return a.Settings.ModelVersion > b.Settings.ModelVersion
	})

	best := eligible[0]
	m.logger.Info("selected investigation for mapping",
		"id", best.ID, "covers", best.Window.Covers(window),
		"overlap", best.Window.Overlap(window))
	return &best, nil
}

// Mapped is the per-transaction projection result.
type Mapped struct {
	Transactions []models.Transaction `json:"transactions"`
	// Excluded counts window transactions the investigation never
	// scored. They carry no prediction and are excluded from matrix
	// arithmetic, never defaulted to a score.
	Excluded int `json:"excluded"`
}

// MapToTransactions attaches the investigation's per-transaction scores
// and the joined ground-truth labels to the window's transactions.
// Transactions without a located score are excluded; there is no
// fallback to an entity-level score.
func (m *Mapper) MapToTransactions(ctx context.Context, inv *models.Investigation, txs []models.Transaction) (Mapped, error) {
	scores := inv.Progress.TransactionScores
	if len(scores) == 0 {
		return Mapped{}, errors.Newf(errors.KindNoAnalysisData,
			"investigation %s carries no transaction scores", inv.ID)
	}

	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.TxID)
	}
	joined, err := m.joiner.JoinLabels(ctx, ids)
	if err != nil {
		return Mapped{}, err
	}

	out := Mapped{}
	for _, tx := range txs {
		score, ok := scores[tx.TxID]
		if !ok {
			out.Excluded++
			continue
		}
		tx.PredictedRisk = models.Float64Ptr(score)
		if label, ok := joined[tx.TxID]; ok {
			tx.ActualLabel = models.IntPtr(label)
		}
		out.Transactions = append(out.Transactions, tx)
	}

	m.logger.Info("mapped investigation to transactions",
		"investigation", inv.ID, "mapped", len(out.Transactions), "excluded", out.Excluded)
	return out, nil
}

// MapWindow fetches the window's transactions for the investigation's
// target and maps the investigation onto them. The returned total is
// the full window count, including what mapping excluded.
func (m *Mapper) MapWindow(ctx context.Context, inv *models.Investigation, w models.Window, mode config.DecisionFilterMode) (Mapped, int, error) {
	txs, err := m.gw.Transactions(ctx, inv.Target(), w, mode)
	if err != nil {
		return Mapped{}, 0, err
	}
	mapped, err := m.MapToTransactions(ctx, inv, txs)
	if err != nil {
		return Mapped{}, 0, err
	}
	return mapped, len(txs), nil
}

// ConfusionMatrix is the evaluation table at one threshold. The closure
// TP+FP+TN+FN+Excluded always equals the total transaction count; a
// transaction with an unknown label or no prediction lands in Excluded.
type ConfusionMatrix struct {
	Threshold     float64 `json:"threshold"`
	TruePositive  int     `json:"true_positive"`
	FalsePositive int     `json:"false_positive"`
	TrueNegative  int     `json:"true_negative"`
	FalseNegative int     `json:"false_negative"`
	Excluded      int     `json:"excluded"`
	Total         int     `json:"total"`
}

// Precision returns TP / (TP + FP), zero when undefined.
func (c ConfusionMatrix) Precision() float64 {
	denom := c.TruePositive + c.FalsePositive
	if denom == 0 {
		return 0
	}
	return float64(c.TruePositive) / float64(denom)
}

// Recall returns TP / (TP + FN), zero when undefined.
func (c ConfusionMatrix) Recall() float64 {
	denom := c.TruePositive + c.FalseNegative
	if denom == 0 {
		return 0
	}
	return float64(c.TruePositive) / float64(denom)
}

// F1 returns the harmonic mean of precision and recall, zero when
// either is undefined.
func (c ConfusionMatrix) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy returns (TP + TN) over the classified count. Excluded
// transactions are outside the denominator; zero when nothing was
// classified.
func (c ConfusionMatrix) Accuracy() float64 {
	denom := c.TruePositive + c.FalsePositive + c.TrueNegative + c.FalseNegative
	if denom == 0 {
		return 0
	}
	return float64(c.TruePositive+c.TrueNegative) / float64(denom)
}

// Evaluate builds the confusion matrix over all window transactions at
// the given threshold. Pass the full window set; mapped carries the
// scored subset and the count it already excluded.
func Evaluate(mapped Mapped, totalWindowTxs int, threshold float64) ConfusionMatrix {
	cm := ConfusionMatrix{Threshold: threshold, Total: totalWindowTxs, Excluded: mapped.Excluded}

	for _, tx := range mapped.Transactions {
		if tx.PredictedRisk == nil || tx.ActualLabel == nil {
			cm.Excluded++
			continue
		}
		predicted := *tx.PredictedRisk >= threshold
		actual := *tx.ActualLabel == 1
		switch {
		case predicted && actual:
			cm.TruePositive++
		case predicted && !actual:
			cm.FalsePositive++
		case !predicted && actual:
			cm.FalseNegative++
		default:
			cm.TrueNegative++
		}
	}
	return cm
}
