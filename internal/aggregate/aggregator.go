// Package aggregate combines per-domain findings into one overall risk
// assessment. Absent scores are absent: a domain whose analyzer failed
// or whose evidence was gated contributes nothing to the weighted mean,
// never an implicit zero.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fraudlens/fraudlens/internal/models"
)

// domainWeights is the fixed contribution of each domain to the overall
// score. Weights are renormalized over the domains that actually scored.
var domainWeights = map[models.Domain]float64{
	models.DomainDevice:   0.2,
	models.DomainNetwork:  0.2,
	models.DomainLocation: 0.15,
	models.DomainLogs:     0.15,
	models.DomainRisk:     0.3,
}

// Options tune the evidence gating applied before aggregation.
type Options struct {
	// MinScoredDomains is how many domains must carry a score before an
	// overall score is produced.
	MinScoredDomains int
	// MinEvidenceItems gates an individual domain: a score backed by
	// fewer evidence items than this is demoted to unscored.
	MinEvidenceItems int
}

// Assessment is the aggregation output. A nil OverallRiskScore means no
// domain survived gating: the investigation still completes, it just
// carries no overall score.
type Assessment struct {
	OverallRiskScore *float64                  `json:"overall_risk_score"`
	Confidence       float64                   `json:"confidence"`
	ScoredDomains    []models.Domain           `json:"scored_domains"`
	GatedDomains     []models.Domain           `json:"gated_domains"`
	DomainScores     map[models.Domain]float64 `json:"domain_scores"`
	Narrative        string                    `json:"narrative"`
}

// Aggregator computes the weighted overall score with evidence gating.
type Aggregator struct {
	opts Options
}

// New creates an aggregator. Zero-valued options disable gating.
func New(opts Options) *Aggregator {
	return &Aggregator{opts: opts}
}

// Aggregate folds the findings into one assessment. toolSuccess is the
// fraction of tool executions that succeeded, fed into confidence.
// When no domain survives gating the assessment carries a nil score at
// zero confidence; absence of analysis data never fails the run.
func (a *Aggregator) Aggregate(findings models.DomainFindings, toolSuccess float64) Assessment {
	out := Assessment{DomainScores: make(map[models.Domain]float64)}

	var (
		weighted, weightSum float64
		evidenceTotal       int
	)
	for _, domain := range models.AllDomains {
		finding := findings[domain]
		if !finding.Scored() {
			continue
		}
		// Gate: a score needs enough evidence behind it.
		if a.opts.MinEvidenceItems > 0 && len(finding.Evidence) < a.opts.MinEvidenceItems && *finding.RiskScore > 0 {
			out.GatedDomains = append(out.GatedDomains, domain)
			continue
		}

		score := *finding.RiskScore
		w := domainWeights[domain]
		weighted += w * score
		weightSum += w
		evidenceTotal += len(finding.Evidence)
		out.ScoredDomains = append(out.ScoredDomains, domain)
		out.DomainScores[domain] = score
	}

	if len(out.ScoredDomains) == 0 {
		out.Narrative = "no domain produced a scored finding; overall risk is undefined"
		return out
	}
	if a.opts.MinScoredDomains > 0 && len(out.ScoredDomains) < a.opts.MinScoredDomains {
		out.Narrative = fmt.Sprintf(
			"only %d of required %d domains scored; overall risk withheld",
			len(out.ScoredDomains), a.opts.MinScoredDomains)
		return out
	}

	overall := weighted / weightSum
	out.OverallRiskScore = models.Float64Ptr(overall)
	out.Confidence = confidence(len(out.ScoredDomains), evidenceTotal, toolSuccess, overall)
	out.Narrative = narrative(out, findings)
	return out
}

// confidence blends four factors: domain coverage, evidence density,
// tool success, and score plausibility. Scores in the decisive middle
// band are trusted more than extremes built on thin evidence.
func confidence(scored, evidenceCount int, toolSuccess, overall float64) float64 {
	coverage := float64(scored) / float64(len(models.AllDomains))

	density := float64(evidenceCount) / 3.0
	if density > 1 {
		density = 1
	}

	if toolSuccess < 0 {
		toolSuccess = 0
	} else if toolSuccess > 1 {
		toolSuccess = 1
	}

	plausibility := 1.0
	if overall < 0.2 {
		plausibility = 0.5 + overall/0.4
	} else if overall > 0.8 {
		plausibility = 0.5 + (1-overall)/0.4
	}

	return 0.25*coverage + 0.25*density + 0.25*toolSuccess + 0.25*plausibility
}

// narrative renders the assessment. When two domains tie for the top
// score the tie is called out rather than arbitrarily ordered.
func narrative(out Assessment, findings models.DomainFindings) string {
	type ranked struct {
		domain models.Domain
		score  float64
	}
	var ranks []ranked
	for domain, score := range out.DomainScores {
		ranks = append(ranks, ranked{domain, score})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].score != ranks[j].score {
			return ranks[i].score > ranks[j].score
		}
		return ranks[i].domain < ranks[j].domain
	})

	var b strings.Builder
	fmt.Fprintf(&b, "overall risk %.2f from %d scored domains", *out.OverallRiskScore, len(ranks))
	if len(ranks) >= 2 && ranks[0].score == ranks[1].score {
		fmt.Fprintf(&b, "; %s and %s tie as leading signals at %.2f",
			ranks[0].domain, ranks[1].domain, ranks[0].score)
	} else if len(ranks) > 0 {
		fmt.Fprintf(&b, "; leading signal %s at %.2f", ranks[0].domain, ranks[0].score)
	}
	if top := findings[ranks[0].domain]; top != nil && top.Narrative != "" {
		fmt.Fprintf(&b, " (%s)", top.Narrative)
	}
	if len(out.GatedDomains) > 0 {
		gated := make([]string, len(out.GatedDomains))
		for i, d := range out.GatedDomains {
			gated[i] = string(d)
		}
		fmt.Fprintf(&b, "; gated for thin evidence: %s", strings.Join(gated, ", "))
	}
	return b.String()
}
