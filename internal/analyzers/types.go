package analyzers

import (
	"context"
	"fmt"

	"github.com/fraudlens/fraudlens/internal/detectors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// Input is the shared payload every domain analyzer consumes. Analyzers
// are deterministic given their input; the only nondeterminism comes
// from external collaborators, whose responses are recorded in evidence
// for replay.
type Input struct {
	Target       models.Entity
	Window       models.Window
	Transactions []models.Transaction

	// CustomerTenureDays feeds the merchant-anomaly tenure suppression.
	CustomerTenureDays map[string]int
	// Baseline is forwarded to the detectors when a per-merchant
	// historical profile is known.
	Baseline *detectors.MerchantBaseline
}

// Result is one analyzer's output. TransactionScores is only populated
// by the risk analyzer; the orchestrator merges it into investigation
// progress before persistence.
type Result struct {
	Finding           models.DomainFinding
	TransactionScores map[string]float64
}

// Analyzer is the single contract all five domains implement. A failing
// analyzer returns an error; the orchestrator converts non-fatal errors
// into a failure finding (risk_score absent, confidence 0, evidence
// carrying the failure) and never retries. Fatal errors (warehouse, LLM,
// cancellation) propagate and terminate the investigation.
type Analyzer interface {
	Domain() models.Domain
	Analyze(ctx context.Context, in Input) (Result, error)
}

// FailureFinding renders a local analyzer failure as evidence. This is
// the sole recovery path in the error taxonomy.
func FailureFinding(domain models.Domain, cause error) models.DomainFinding {
	return models.DomainFinding{
		Domain:     domain,
		RiskScore:  nil,
		Confidence: 0,
		Evidence: []models.Evidence{{
			Type:   models.EvidenceAnalyzerFailure,
			Detail: fmt.Sprintf("analyzer failed: %v", cause),
			Source: string(domain),
		}},
		Narrative: fmt.Sprintf("%s analysis unavailable", domain),
	}
}

// IPReputation is what the network analyzer learns about one address.
type IPReputation struct {
	IP      string  `json:"ip"`
	Score   float64 `json:"score"` // 0 clean .. 1 abusive
	IsVPN   bool    `json:"is_vpn"`
	IsProxy bool    `json:"is_proxy"`
	ASN     string  `json:"asn"`
	ASNOrg  string  `json:"asn_org"`
}

// IPReputationService is the external reputation collaborator. The core
// only depends on this interface.
type IPReputationService interface {
	Lookup(ctx context.Context, ip string) (IPReputation, error)
}

// SIEMEvent is one security log hit for the investigated entity.
type SIEMEvent struct {
	Timestamp string `json:"timestamp"`
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Detail    string `json:"detail"`
}

// SIEMService is the external log-search collaborator.
type SIEMService interface {
	Search(ctx context.Context, target models.Entity, w models.Window) ([]SIEMEvent, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// volumeConfidence grows with the evidence base and saturates at full
// confidence once n reaches full.
func volumeConfidence(n, full int) float64 {
	if full <= 0 || n <= 0 {
		return 0
	}
	return clamp01(float64(n) / float64(full))
}
