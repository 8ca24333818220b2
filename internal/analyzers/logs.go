package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/logging"
	"github.com/fraudlens/fraudlens/internal/models"
	"github.com/fraudlens/fraudlens/internal/replay"
)

// LogsAnalyzer searches the security event store for hits against the
// investigated entity. Like the network analyzer, responses are
// recorded for deterministic replay.
type LogsAnalyzer struct {
	siem       SIEMService
	recordings *replay.Cache
}

// NewLogsAnalyzer creates the security-log analyzer.
func NewLogsAnalyzer(siem SIEMService, recordings *replay.Cache) *LogsAnalyzer {
	return &LogsAnalyzer{siem: siem, recordings: recordings}
}

// Domain implements Analyzer.
func (a *LogsAnalyzer) Domain() models.Domain { return models.DomainLogs }

// Analyze implements Analyzer.
func (a *LogsAnalyzer) Analyze(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	finding := models.DomainFinding{Domain: a.Domain()}

	events, err := a.search(ctx, in.Target, in.Window)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.KindAnalyzerFailure, "siem search failed")
	}

	if len(events) == 0 {
		finding.RiskScore = models.Float64Ptr(0)
		finding.Confidence = 0.5
		finding.Narrative = "no security log hits for the target in the window"
		return Result{Finding: finding}, nil
	}

	score := 0.0
	high, medium := 0, 0
	for _, ev := range events {
		sev := models.SeverityLow
		switch strings.ToLower(ev.Severity) {
		case "high", "critical":
			sev = models.SeverityHigh
			high++
		case "medium":
			sev = models.SeverityMedium
			medium++
		}
		finding.Evidence = append(finding.Evidence, models.Evidence{
			Type:     models.EvidenceSIEMHit,
			Severity: sev,
			Source:   string(a.Domain()),
			Detail:   fmt.Sprintf("rule %s at %s: %s", ev.Rule, ev.Timestamp, ev.Detail),
		})
	}

	switch {
	case high > 0:
		score = 0.7 + 0.1*float64(min(high-1, 3))
	case medium > 0:
		score = 0.4 + 0.05*float64(min(medium-1, 4))
	default:
		score = 0.2
	}

	finding.RiskScore = models.Float64Ptr(clamp01(score))
	finding.Confidence = volumeConfidence(len(events), 3)
	finding.Narrative = fmt.Sprintf("%d security log hits (%d high, %d medium)",
		len(events), high, medium)
	return Result{Finding: finding}, nil
}

func (a *LogsAnalyzer) search(ctx context.Context, target models.Entity, w models.Window) ([]SIEMEvent, error) {
	invID, _ := logging.InvestigationID(ctx)
	key := fmt.Sprintf("siem:%s:%s:%d:%d", target.Type, target.NormalizedValue,
		w.Start.Unix(), w.End.Unix())

	if a.recordings != nil && invID != "" {
		if payload, ok, err := a.recordings.Lookup(invID, key); err == nil && ok {
			var events []SIEMEvent
			if err := json.Unmarshal(payload, &events); err == nil {
				return events, nil
			}
		}
	}

	events, err := a.siem.Search(ctx, target, w)
	if err != nil {
		return nil, err
	}

	if a.recordings != nil && invID != "" {
		if payload, err := json.Marshal(events); err == nil {
			_ = a.recordings.Record(invID, key, payload)
		}
	}
	return events, nil
}
