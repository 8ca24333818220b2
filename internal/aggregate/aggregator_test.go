package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlens/fraudlens/internal/models"
)

func finding(d models.Domain, score float64, evidence int) *models.DomainFinding {
	f := &models.DomainFinding{Domain: d, RiskScore: models.Float64Ptr(score), Confidence: 0.5}
	for i := 0; i < evidence; i++ {
		f.Evidence = append(f.Evidence, models.Evidence{Type: models.EvidenceDeviceReuse, Detail: "x"})
	}
	return f
}

func TestAggregate_WeightedMean(t *testing.T) {
	a := New(Options{})
	findings := models.DomainFindings{
		models.DomainDevice:   finding(models.DomainDevice, 0.5, 2),
		models.DomainNetwork:  finding(models.DomainNetwork, 0.5, 2),
		models.DomainLocation: finding(models.DomainLocation, 0.5, 1),
		models.DomainLogs:     finding(models.DomainLogs, 0.5, 1),
		models.DomainRisk:     finding(models.DomainRisk, 0.5, 3),
	}

	out := a.Aggregate(findings, 1.0)
	require.NotNil(t, out.OverallRiskScore)
	assert.InDelta(t, 0.5, *out.OverallRiskScore, 1e-9)
	assert.Len(t, out.ScoredDomains, 5)
	assert.Empty(t, out.GatedDomains)
}

func TestAggregate_RenormalizesOverScoredDomains(t *testing.T) {
	a := New(Options{})
	// Only device (0.2) and risk (0.3) scored: weights renormalize to
	// 0.4 and 0.6 of the pair.
	findings := models.DomainFindings{
		models.DomainDevice: finding(models.DomainDevice, 1.0, 1),
		models.DomainRisk:   finding(models.DomainRisk, 0.0, 0),
	}

	out := a.Aggregate(findings, 1.0)
	require.NotNil(t, out.OverallRiskScore)
	assert.InDelta(t, 0.4, *out.OverallRiskScore, 1e-9)
}

func TestAggregate_UnscoredIsNotZero(t *testing.T) {
	a := New(Options{})
	// A failed domain (nil score) must not drag the mean down.
	findings := models.DomainFindings{
		models.DomainDevice:  finding(models.DomainDevice, 0.8, 2),
		models.DomainNetwork: {Domain: models.DomainNetwork, RiskScore: nil},
	}

	out := a.Aggregate(findings, 1.0)
	require.NotNil(t, out.OverallRiskScore)
	assert.InDelta(t, 0.8, *out.OverallRiskScore, 1e-9)
	assert.Equal(t, []models.Domain{models.DomainDevice}, out.ScoredDomains)
}

func TestAggregate_EvidenceGating(t *testing.T) {
	a := New(Options{MinEvidenceItems: 3})
	findings := models.DomainFindings{
		models.DomainDevice:  finding(models.DomainDevice, 0.9, 1), // thin, gated
		models.DomainNetwork: finding(models.DomainNetwork, 0.4, 3),
	}

	out := a.Aggregate(findings, 1.0)
	assert.Equal(t, []models.Domain{models.DomainDevice}, out.GatedDomains)
	assert.Equal(t, []models.Domain{models.DomainNetwork}, out.ScoredDomains)
	require.NotNil(t, out.OverallRiskScore)
	assert.InDelta(t, 0.4, *out.OverallRiskScore, 1e-9)
	assert.Contains(t, out.Narrative, "gated for thin evidence: device")
}

func TestAggregate_ZeroScoreNeedsNoEvidence(t *testing.T) {
	a := New(Options{MinEvidenceItems: 3})
	// A genuine zero with no evidence is a clean observation, not a claim
	// needing support; it must survive gating.
	findings := models.DomainFindings{
		models.DomainLogs: finding(models.DomainLogs, 0.0, 0),
	}

	out := a.Aggregate(findings, 1.0)
	assert.Empty(t, out.GatedDomains)
	require.NotNil(t, out.OverallRiskScore)
	assert.Zero(t, *out.OverallRiskScore)
}

func TestAggregate_NoScoredDomainsWithholdsScore(t *testing.T) {
	a := New(Options{})

	// No findings at all: the assessment completes with no overall score
	// rather than failing. Nil stays distinct from 0.0.
	out := a.Aggregate(models.DomainFindings{}, 1.0)
	assert.Nil(t, out.OverallRiskScore)
	assert.Zero(t, out.Confidence)
	assert.Empty(t, out.ScoredDomains)
	assert.Contains(t, out.Narrative, "overall risk is undefined")

	// All findings present but none scored.
	out = a.Aggregate(models.DomainFindings{
		models.DomainDevice: {Domain: models.DomainDevice},
	}, 1.0)
	assert.Nil(t, out.OverallRiskScore)
	assert.Zero(t, out.Confidence)
}

func TestAggregate_MinScoredDomains(t *testing.T) {
	a := New(Options{MinScoredDomains: 2})
	findings := models.DomainFindings{
		models.DomainDevice: finding(models.DomainDevice, 0.5, 2),
	}

	out := a.Aggregate(findings, 1.0)
	assert.Nil(t, out.OverallRiskScore)
	assert.Zero(t, out.Confidence)
	assert.Contains(t, out.Narrative, "overall risk withheld")
}

func TestAggregate_TieNarrative(t *testing.T) {
	a := New(Options{})
	findings := models.DomainFindings{
		models.DomainDevice:  finding(models.DomainDevice, 0.6, 2),
		models.DomainNetwork: finding(models.DomainNetwork, 0.6, 2),
	}

	out := a.Aggregate(findings, 1.0)
	assert.Contains(t, out.Narrative, "tie as leading signals")
}

func TestConfidence(t *testing.T) {
	// Full coverage, dense evidence, perfect tools, mid-band score.
	assert.InDelta(t, 1.0, confidence(5, 3, 1.0, 0.5), 1e-9)

	// Extreme score degrades plausibility.
	mid := confidence(5, 3, 1.0, 0.5)
	high := confidence(5, 3, 1.0, 0.95)
	assert.Less(t, high, mid)

	low := confidence(5, 3, 1.0, 0.05)
	assert.Less(t, low, mid)

	// Tool failures degrade confidence.
	assert.Less(t, confidence(5, 3, 0.5, 0.5), mid)
}
