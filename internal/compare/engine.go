// Package compare implements the two-window evaluation engine: fraud
// rates with uncertainty intervals, score distribution drift, and
// review-queue operating points between a baseline window A and an
// evaluation window B.
package compare

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/labels"
	"github.com/fraudlens/fraudlens/internal/mapper"
	"github.com/fraudlens/fraudlens/internal/models"
	"github.com/fraudlens/fraudlens/internal/warehouse"
)

// merchantBreakdownCap bounds the per-merchant section of the report.
const merchantBreakdownCap = 20

// baselineSupport is the minimum support window A must carry before its
// metrics are trusted without expansion: enough transactions, enough
// labeled frauds, and enough predictions over the risk threshold.
var baselineSupport = supportThresholds{
	MinTransactions: 50,
	MinFrauds:       5,
	MinPredicted:    10,
}

// Engine runs window comparisons against the warehouse.
type Engine struct {
	gw     warehouse.Gateway
	joiner *labels.Joiner
	mapper *mapper.Mapper
	cfg    *config.Config
	logger *slog.Logger
}

// NewEngine creates a comparison engine.
func NewEngine(gw warehouse.Gateway, joiner *labels.Joiner, cfg *config.Config) *Engine {
	return &Engine{
		gw:     gw,
		joiner: joiner,
		mapper: mapper.New(gw, joiner),
		cfg:    cfg,
		logger: slog.Default().With("component", "compare_engine"),
	}
}

// WindowStats summarizes one window's labeled outcomes.
type WindowStats struct {
	Window       models.Window `json:"window"`
	Transactions int           `json:"transactions"`
	Labeled      int           `json:"labeled"`
	FraudCount   int           `json:"fraud_count"`
	FraudRate    float64       `json:"fraud_rate"`
	CILow        float64       `json:"ci_low"`
	CIHigh       float64       `json:"ci_high"`
	// WideCI warns that the interval is too wide for the rate to be
	// actionable.
	WideCI    bool    `json:"wide_ci"`
	MeanScore float64 `json:"mean_score"`
	Scored    int     `json:"scored"`
}

// MetricCI is one classification metric with its Wilson interval.
type MetricCI struct {
	Value  float64 `json:"value"`
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`
	WideCI bool    `json:"wide_ci"`
}

// WindowEvaluation is the confusion-matrix view of one window. When a
// completed investigation covered the window its per-transaction scores
// back the matrix; otherwise the warehouse scores do, and
// InvestigationID is empty.
type WindowEvaluation struct {
	InvestigationID string                 `json:"investigation_id,omitempty"`
	Matrix          mapper.ConfusionMatrix `json:"matrix"`
	Precision       MetricCI               `json:"precision"`
	Recall          MetricCI               `json:"recall"`
	Accuracy        MetricCI               `json:"accuracy"`
	F1              float64                `json:"f1"`
}

// Deltas holds B minus A differences.
type Deltas struct {
	FraudRate float64 `json:"fraud_rate"`
	MeanScore float64 `json:"mean_score"`
	Volume    int     `json:"volume"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Accuracy  float64 `json:"accuracy"`
}

// MerchantBreakdown is one merchant's contribution to the delta.
type MerchantBreakdown struct {
	MerchantID  string  `json:"merchant_id"`
	CountA      int     `json:"count_a"`
	CountB      int     `json:"count_b"`
	FraudRateA  float64 `json:"fraud_rate_a"`
	FraudRateB  float64 `json:"fraud_rate_b"`
	RateDelta   float64 `json:"rate_delta"`
	VolumeDelta int     `json:"volume_delta"`
}

// Report is the comparison output.
type Report struct {
	Target       models.CompoundEntity `json:"target"`
	WindowA      WindowStats           `json:"window_a"`
	WindowB      WindowStats           `json:"window_b"`
	WindowBEmpty bool                  `json:"window_b_empty"`
	AutoExpand   *AutoExpandMeta       `json:"auto_expand_meta,omitempty"`
	EvalA        *WindowEvaluation     `json:"eval_a,omitempty"`
	EvalB        *WindowEvaluation     `json:"eval_b,omitempty"`
	Deltas       Deltas                `json:"deltas"`

	PSI            *float64            `json:"psi,omitempty"`
	KS             *float64            `json:"ks,omitempty"`
	ThresholdCurve []CurvePoint        `json:"threshold_curve,omitempty"`
	PrecisionAtK   map[int]float64     `json:"precision_at_k,omitempty"`
	RecallAtBudget map[int]float64     `json:"recall_at_budget,omitempty"`
	PerMerchant    []MerchantBreakdown `json:"per_merchant,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Compare evaluates target across windows A (baseline) and B. Window A
// auto-expands backwards when its support is thin — too few
// transactions, labeled frauds, or over-threshold predictions — unless
// its labels are still maturing, in which case it is taken as given.
// Window B never expands, because it is the period under evaluation. An
// empty B degrades to a partial report rather than an error. candidates
// are completed investigations considered for per-window evaluation.
func (e *Engine) Compare(ctx context.Context, target models.CompoundEntity, windowA, windowB models.Window, candidates []models.Investigation) (*Report, error) {
	mode := e.cfg.Warehouse.DecisionFilter
	now := time.Now()

	var (
		txsA    []models.Transaction
		labelsA map[string]int
	)
	fetchA := func(w models.Window) (windowSupport, error) {
		var ferr error
		if txsA, ferr = e.gw.Transactions(ctx, target, w, mode); ferr != nil {
			return windowSupport{}, ferr
		}
		if labelsA, ferr = e.join(ctx, txsA); ferr != nil {
			return windowSupport{}, ferr
		}
		return e.support(txsA, labelsA), nil
	}

	var meta *AutoExpandMeta
	maturityBound := now.AddDate(0, 0, -e.cfg.Engine.LabelMaturityDays)
	if windowA.End.After(maturityBound) {
		// Labels inside the maturity horizon are still settling;
		// expansion would only widen an unreliable window.
		if _, err := fetchA(windowA); err != nil {
			return nil, err
		}
	} else {
		floor := now.AddDate(0, -e.cfg.Engine.MaxLookbackMonths, 0)
		expanded, m, err := autoExpand(windowA, baselineSupport, floor, fetchA)
		if err != nil {
			return nil, err
		}
		windowA = expanded
		meta = m
	}

	txsB, err := e.gw.Transactions(ctx, target, windowB, mode)
	if err != nil {
		return nil, err
	}

	switch {
	case len(txsA) == 0 && len(txsB) == 0:
		return nil, errors.New(errors.KindInsufficientDataBothWindows,
			"both comparison windows resolved to zero transactions")
	case len(txsA) == 0:
		return nil, errors.New(errors.KindInsufficientDataWindowA,
			"baseline window resolved to zero transactions")
	}

	report := &Report{
		Target:      target,
		GeneratedAt: time.Now().UTC(),
	}
	if meta != nil && meta.Applied {
		report.AutoExpand = meta
	}

	report.WindowA = windowStats(windowA, txsA, labelsA)
	report.EvalA, err = e.evaluateWindow(ctx, candidates, windowA, txsA, labelsA)
	if err != nil {
		return nil, err
	}

	if len(txsB) == 0 {
		report.WindowBEmpty = true
		report.WindowB = WindowStats{Window: windowB}
		e.logger.Warn("evaluation window empty; emitting partial report")
		return report, nil
	}

	labelsB, err := e.join(ctx, txsB)
	if err != nil {
		return nil, err
	}
	report.WindowB = windowStats(windowB, txsB, labelsB)
	report.EvalB, err = e.evaluateWindow(ctx, candidates, windowB, txsB, labelsB)
	if err != nil {
		return nil, err
	}

	report.Deltas = Deltas{
		FraudRate: report.WindowB.FraudRate - report.WindowA.FraudRate,
		MeanScore: report.WindowB.MeanScore - report.WindowA.MeanScore,
		Volume:    report.WindowB.Transactions - report.WindowA.Transactions,
		Precision: report.EvalB.Precision.Value - report.EvalA.Precision.Value,
		Recall:    report.EvalB.Recall.Value - report.EvalA.Recall.Value,
		F1:        report.EvalB.F1 - report.EvalA.F1,
		Accuracy:  report.EvalB.Accuracy.Value - report.EvalA.Accuracy.Value,
	}

	scoresA, scoresB := scores(txsA), scores(txsB)
	if psi, ok := PSI(scoresA, scoresB); ok {
		report.PSI = models.Float64Ptr(psi)
	}
	if ks, ok := KS(scoresA, scoresB); ok {
		report.KS = models.Float64Ptr(ks)
	}

	evalSet := withLabels(txsB, labelsB)
	report.ThresholdCurve = ThresholdCurve(evalSet)
	report.PrecisionAtK = PrecisionAtK(evalSet)
	report.RecallAtBudget = RecallAtBudget(evalSet)
	report.PerMerchant = merchantBreakdown(txsA, labelsA, txsB, labelsB)

	e.logger.Info("comparison complete",
		"window_a_txs", len(txsA), "window_b_txs", len(txsB),
		"fraud_rate_delta", report.Deltas.FraudRate)
	return report, nil
}

func (e *Engine) join(ctx context.Context, txs []models.Transaction) (map[string]int, error) {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxID
	}
	return e.joiner.JoinLabels(ctx, ids)
}

func (e *Engine) support(txs []models.Transaction, joined map[string]int) windowSupport {
	s := windowSupport{Transactions: len(txs)}
	for _, tx := range txs {
		if joined[tx.TxID] == 1 {
			s.Frauds++
		}
		if tx.PredictedRisk != nil && *tx.PredictedRisk >= e.cfg.Engine.RiskThreshold {
			s.Predicted++
		}
	}
	return s
}

// evaluateWindow builds the window's confusion matrix. It prefers a
// completed investigation's per-transaction scores; when no candidate
// covers the window it falls back to the warehouse model scores.
func (e *Engine) evaluateWindow(ctx context.Context, candidates []models.Investigation, w models.Window, txs []models.Transaction, joined map[string]int) (*WindowEvaluation, error) {
	threshold := e.cfg.Engine.RiskThreshold
	var invID string

	mapped := mapper.Mapped{Transactions: withLabels(txs, joined)}
	best, err := e.mapper.SelectBest(ctx, candidates, w)
	switch {
	case err == nil:
		m, merr := e.mapper.MapToTransactions(ctx, best, txs)
		if merr != nil {
			return nil, merr
		}
		mapped = m
		invID = best.ID
		if best.Settings.RiskThreshold > 0 {
			threshold = best.Settings.RiskThreshold
		}
	case !errors.IsKind(err, errors.KindNoAnalysisData):
		return nil, err
	}

	cm := mapper.Evaluate(mapped, len(txs), threshold)
	return &WindowEvaluation{
		InvestigationID: invID,
		Matrix:          cm,
		Precision:       metricCI(cm.Precision(), cm.TruePositive, cm.TruePositive+cm.FalsePositive),
		Recall:          metricCI(cm.Recall(), cm.TruePositive, cm.TruePositive+cm.FalseNegative),
		Accuracy:        metricCI(cm.Accuracy(), cm.TruePositive+cm.TrueNegative, cm.Total-cm.Excluded),
		F1:              cm.F1(),
	}, nil
}

func metricCI(value float64, successes, n int) MetricCI {
	low, high := WilsonInterval(successes, n)
	return MetricCI{Value: value, CILow: low, CIHigh: high, WideCI: high-low > WideCIWidth}
}

func windowStats(w models.Window, txs []models.Transaction, joined map[string]int) WindowStats {
	stats := WindowStats{Window: w, Transactions: len(txs)}

	var scoreSum float64
	for _, tx := range txs {
		if label, ok := joined[tx.TxID]; ok {
			stats.Labeled++
			if label == 1 {
				stats.FraudCount++
			}
		}
		if tx.PredictedRisk != nil {
			stats.Scored++
			scoreSum += *tx.PredictedRisk
		}
	}

	if stats.Labeled > 0 {
		stats.FraudRate = float64(stats.FraudCount) / float64(stats.Labeled)
	}
	stats.CILow, stats.CIHigh = WilsonInterval(stats.FraudCount, stats.Labeled)
	stats.WideCI = stats.CIHigh-stats.CILow > WideCIWidth
	if stats.Scored > 0 {
		stats.MeanScore = scoreSum / float64(stats.Scored)
	}
	return stats
}

func scores(txs []models.Transaction) []float64 {
	var out []float64
	for _, tx := range txs {
		if tx.PredictedRisk != nil {
			out = append(out, *tx.PredictedRisk)
		}
	}
	return out
}

func withLabels(txs []models.Transaction, joined map[string]int) []models.Transaction {
	out := make([]models.Transaction, len(txs))
	copy(out, txs)
	for i := range out {
		if label, ok := joined[out[i].TxID]; ok {
			out[i].ActualLabel = models.IntPtr(label)
		}
	}
	return out
}

// merchantBreakdown ranks merchants by absolute fraud-rate movement and
// caps the list. Merchants present in only one window still appear;
// their other-side rate reads as zero over zero labeled.
func merchantBreakdown(txsA []models.Transaction, labelsA map[string]int,
	txsB []models.Transaction, labelsB map[string]int) []MerchantBreakdown {

	type acc struct{ count, labeled, fraud int }
	perA := make(map[string]*acc)
	perB := make(map[string]*acc)
	accumulate := func(dst map[string]*acc, txs []models.Transaction, joined map[string]int) {
		for _, tx := range txs {
			a := dst[tx.MerchantID]
			if a == nil {
				a = &acc{}
				dst[tx.MerchantID] = a
			}
			a.count++
			if label, ok := joined[tx.TxID]; ok {
				a.labeled++
				if label == 1 {
					a.fraud++
				}
			}
		}
	}
	accumulate(perA, txsA, labelsA)
	accumulate(perB, txsB, labelsB)

	merchants := make(map[string]struct{})
	for id := range perA {
		merchants[id] = struct{}{}
	}
	for id := range perB {
		merchants[id] = struct{}{}
	}

	rate := func(a *acc) float64 {
		if a == nil || a.labeled == 0 {
			return 0
		}
		return float64(a.fraud) / float64(a.labeled)
	}
	count := func(a *acc) int {
		if a == nil {
			return 0
		}
		return a.count
	}

	var out []MerchantBreakdown
	for id := range merchants {
		a, b := perA[id], perB[id]
		row := MerchantBreakdown{
			MerchantID:  id,
			CountA:      count(a),
			CountB:      count(b),
			FraudRateA:  rate(a),
			FraudRateB:  rate(b),
			VolumeDelta: count(b) - count(a),
		}
		row.RateDelta = row.FraudRateB - row.FraudRateA
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		di, dj := abs(out[i].RateDelta), abs(out[j].RateDelta)
		if di != dj {
			return di > dj
		}
		return out[i].MerchantID < out[j].MerchantID
	})
	if len(out) > merchantBreakdownCap {
		out = out[:merchantBreakdownCap]
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
