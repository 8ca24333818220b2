package analyzers

import (
	"context"
	"fmt"
	"strings"

	"github.com/fraudlens/fraudlens/internal/detectors"
	"github.com/fraudlens/fraudlens/internal/llm"
	"github.com/fraudlens/fraudlens/internal/models"
)

// severityWeights converts detector verdicts into score contributions.
var severityWeights = map[models.Severity]float64{
	models.SeverityHigh:   0.35,
	models.SeverityMedium: 0.2,
	models.SeverityLow:    0.1,
}

// RiskAnalyzer is the synthesis domain: it runs the post-hoc pattern
// detectors over the window, derives per-transaction scores, and asks
// the language model to phrase the narrative. It is the only analyzer
// that populates Result.TransactionScores.
type RiskAnalyzer struct {
	llm llm.Client
}

// NewRiskAnalyzer creates the risk analyzer. The client may be nil, in
// which case a mechanical narrative is used.
func NewRiskAnalyzer(client llm.Client) *RiskAnalyzer {
	return &RiskAnalyzer{llm: client}
}

// Domain implements Analyzer.
func (a *RiskAnalyzer) Domain() models.Domain { return models.DomainRisk }

// Analyze implements Analyzer.
func (a *RiskAnalyzer) Analyze(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	finding := models.DomainFinding{Domain: a.Domain()}
	if len(in.Transactions) == 0 {
		finding.Narrative = "no transactions in window; risk synthesis unavailable"
		return Result{Finding: finding}, nil
	}

	detIn := detectors.Input{
		Target:             in.Target,
		Window:             in.Window,
		Transactions:       in.Transactions,
		Baseline:           in.Baseline,
		CustomerTenureDays: in.CustomerTenureDays,
	}

	score := 0.0
	var hits []detectors.Result
	for _, det := range detectors.All() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res := det.Detect(detIn)
		if !res.Detected {
			continue
		}
		hits = append(hits, res)
		score += severityWeights[res.Severity]
		finding.Evidence = append(finding.Evidence, res.Evidence...)
	}

	finding.RiskScore = models.Float64Ptr(clamp01(score))
	finding.Confidence = volumeConfidence(len(in.Transactions), 20)

	narrative, err := a.narrative(ctx, in, hits)
	if err != nil {
		return Result{}, err
	}
	finding.Narrative = narrative

	return Result{
		Finding:           finding,
		TransactionScores: transactionScores(in.Transactions, hits),
	}, nil
}

// narrative asks the language model to phrase the detector hits. A
// failed completion fails the analyzer: there is no model fallback, so
// the error carries its LLM kind up to the orchestrator's fatal-error
// policy. The mechanical summary serves only when no client is wired or
// the model returns empty text.
func (a *RiskAnalyzer) narrative(ctx context.Context, in Input, hits []detectors.Result) (string, error) {
	if a.llm == nil {
		return mechanicalNarrative(in, hits), nil
	}

	system := "You are a fraud investigation assistant. Write one short paragraph summarizing the findings. State only what the evidence supports."
	user := fmt.Sprintf("Write the risk narrative for target %s=%s.\nDetector findings:\n%s",
		in.Target.Type, in.Target.NormalizedValue, hitLines(hits))

	text, err := a.llm.Complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return mechanicalNarrative(in, hits), nil
	}
	return text, nil
}

func mechanicalNarrative(in Input, hits []detectors.Result) string {
	if len(hits) == 0 {
		return fmt.Sprintf("no fraud patterns detected across %d transactions", len(in.Transactions))
	}
	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.Name
	}
	return fmt.Sprintf("detected %s across %d transactions",
		strings.Join(names, ", "), len(in.Transactions))
}

func hitLines(hits []detectors.Result) string {
	if len(hits) == 0 {
		return "- none"
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "- %s (%s): %d evidence items\n", h.Name, h.Severity, len(h.Evidence))
	}
	return b.String()
}

// transactionScores derives a deterministic per-transaction score from
// row features plus the detector hits that implicate the row.
func transactionScores(txs []models.Transaction, hits []detectors.Result) map[string]float64 {
	// Index which tx ids appear in detector evidence details.
	implicated := make(map[string]float64)
	for _, h := range hits {
		w := severityWeights[h.Severity]
		for _, ev := range h.Evidence {
			for _, tx := range txs {
				if strings.Contains(ev.Detail, tx.TxID) {
					if w > implicated[tx.TxID] {
						implicated[tx.TxID] = w
					}
				}
			}
		}
	}

	scores := make(map[string]float64, len(txs))
	for _, tx := range txs {
		s := 0.05

		if tx.IPCountry != "" && tx.BINCountry != "" && tx.IPCountry != tx.BINCountry {
			s += 0.25
		}
		if strings.EqualFold(tx.CardType, "PREPAID") {
			s += 0.1
		}
		if h := tx.Datetime.Hour(); h < 6 {
			s += 0.1
		}
		if tx.Amount >= 1000 {
			s += 0.15
		}
		if w, ok := implicated[tx.TxID]; ok {
			s += w
		}

		scores[tx.TxID] = clamp01(s)
	}
	return scores
}
