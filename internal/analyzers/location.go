package analyzers

import (
	"context"
	"fmt"

	"github.com/fraudlens/fraudlens/internal/detectors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// LocationAnalyzer scores geographic inconsistency: the card's issuing
// country disagreeing with the IP country, and corroborated impossible
// travel between consecutive transactions.
type LocationAnalyzer struct {
	geo *detectors.GeoImpossibilityDetector
}

// NewLocationAnalyzer creates the location analyzer.
func NewLocationAnalyzer() *LocationAnalyzer {
	return &LocationAnalyzer{geo: detectors.NewGeoImpossibilityDetector()}
}

// Domain implements Analyzer.
func (a *LocationAnalyzer) Domain() models.Domain { return models.DomainLocation }

// Analyze implements Analyzer.
func (a *LocationAnalyzer) Analyze(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	finding := models.DomainFinding{Domain: a.Domain()}
	if len(in.Transactions) == 0 {
		finding.Narrative = "no transactions in window; location signals unavailable"
		return Result{Finding: finding}, nil
	}

	score := 0.0

	// Country mismatch: IP country vs card issuing country. A traveler
	// produces a handful of these; sustained mismatch is the signal.
	mismatched, comparable := 0, 0
	countries := make(map[string]struct{})
	for _, tx := range in.Transactions {
		if tx.IPCountry != "" {
			countries[tx.IPCountry] = struct{}{}
		}
		if tx.IPCountry == "" || tx.BINCountry == "" {
			continue
		}
		comparable++
		if tx.IPCountry != tx.BINCountry {
			mismatched++
		}
	}
	if comparable > 0 {
		ratio := float64(mismatched) / float64(comparable)
		if ratio >= 0.5 {
			score += 0.4
			finding.Evidence = append(finding.Evidence, models.Evidence{
				Type:     models.EvidenceCountryMismatch,
				Severity: models.SeverityHigh,
				Source:   string(a.Domain()),
				Detail:   fmt.Sprintf("%d of %d transactions with ip country != bin country", mismatched, comparable),
			})
		} else if ratio >= 0.2 {
			score += 0.2
			finding.Evidence = append(finding.Evidence, models.Evidence{
				Type:     models.EvidenceCountryMismatch,
				Severity: models.SeverityMedium,
				Source:   string(a.Domain()),
				Detail:   fmt.Sprintf("%d of %d transactions with ip country != bin country", mismatched, comparable),
			})
		}
	}

	// Corroborated impossible travel, delegated to the pattern detector.
	geo := a.geo.Detect(detectors.Input{
		Target:       in.Target,
		Window:       in.Window,
		Transactions: in.Transactions,
	})
	if geo.Detected {
		score += 0.45
		finding.Evidence = append(finding.Evidence, geo.Evidence...)
	}

	// Many distinct countries in one window is suspicious on its own.
	if len(countries) >= 4 {
		score += 0.15
		finding.Evidence = append(finding.Evidence, models.Evidence{
			Type:     models.EvidenceCountryMismatch,
			Severity: models.SeverityMedium,
			Source:   string(a.Domain()),
			Detail:   fmt.Sprintf("activity spans %d countries within one window", len(countries)),
		})
	}

	finding.RiskScore = models.Float64Ptr(clamp01(score))
	finding.Confidence = volumeConfidence(comparable, 10)
	finding.Narrative = fmt.Sprintf("location analysis over %d transactions: %d signals",
		len(in.Transactions), len(finding.Evidence))
	return Result{Finding: finding}, nil
}
