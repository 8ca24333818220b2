package analyzers

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/fraudlens/fraudlens/internal/models"
)

// DeviceAnalyzer scores device-level abuse signals: one device id used
// across many identities, fingerprint mismatches, prepaid cards, and
// user-agent entropy typical of automation.
type DeviceAnalyzer struct{}

// NewDeviceAnalyzer creates the device analyzer.
func NewDeviceAnalyzer() *DeviceAnalyzer { return &DeviceAnalyzer{} }

// Domain implements Analyzer.
func (a *DeviceAnalyzer) Domain() models.Domain { return models.DomainDevice }

// Analyze implements Analyzer.
func (a *DeviceAnalyzer) Analyze(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	finding := models.DomainFinding{Domain: a.Domain()}
	if len(in.Transactions) == 0 {
		finding.Narrative = "no transactions in window; device signals unavailable"
		return Result{Finding: finding}, nil
	}

	score := 0.0

	// Device reuse: one device id spanning several emails.
	emailsPerDevice := make(map[string]map[string]struct{})
	for _, tx := range in.Transactions {
		if tx.DeviceID == "" || tx.EmailNormalized == "" {
			continue
		}
		if emailsPerDevice[tx.DeviceID] == nil {
			emailsPerDevice[tx.DeviceID] = make(map[string]struct{})
		}
		emailsPerDevice[tx.DeviceID][tx.EmailNormalized] = struct{}{}
	}
	maxReuse := 0
	for device, emails := range emailsPerDevice {
		if len(emails) > maxReuse {
			maxReuse = len(emails)
		}
		if len(emails) >= 3 {
			finding.Evidence = append(finding.Evidence, models.Evidence{
				Type:     models.EvidenceDeviceReuse,
				Severity: models.SeverityHigh,
				Source:   string(a.Domain()),
				Detail:   fmt.Sprintf("device %s used by %d distinct emails", device, len(emails)),
			})
		}
	}
	if maxReuse >= 3 {
		score += 0.35
	} else if maxReuse == 2 {
		score += 0.15
	}

	// Fingerprint mismatch: one device id presenting several user agents.
	uasPerDevice := make(map[string]map[string]struct{})
	for _, tx := range in.Transactions {
		if tx.DeviceID == "" || tx.UserAgent == "" {
			continue
		}
		if uasPerDevice[tx.DeviceID] == nil {
			uasPerDevice[tx.DeviceID] = make(map[string]struct{})
		}
		uasPerDevice[tx.DeviceID][tx.UserAgent] = struct{}{}
	}
	for device, uas := range uasPerDevice {
		if len(uas) >= 3 {
			score += 0.2
			finding.Evidence = append(finding.Evidence, models.Evidence{
				Type:     models.EvidenceFingerprint,
				Severity: models.SeverityMedium,
				Source:   string(a.Domain()),
				Detail:   fmt.Sprintf("device %s presented %d distinct user agents", device, len(uas)),
			})
			break
		}
	}

	// Prepaid cards carry weaker issuer identity checks.
	prepaid := 0
	for _, tx := range in.Transactions {
		if strings.EqualFold(tx.CardType, "PREPAID") {
			prepaid++
		}
	}
	if prepaid > 0 {
		ratio := float64(prepaid) / float64(len(in.Transactions))
		if ratio >= 0.5 {
			score += 0.2
		} else {
			score += 0.1
		}
		finding.Evidence = append(finding.Evidence, models.Evidence{
			Type:     models.EvidencePrepaidCard,
			Severity: models.SeverityLow,
			Source:   string(a.Domain()),
			Detail:   fmt.Sprintf("%d of %d transactions on prepaid cards", prepaid, len(in.Transactions)),
		})
	}

	// High user-agent entropy across the set suggests rotation.
	if entropy := userAgentEntropy(in.Transactions); entropy > 2.0 {
		score += 0.15
		finding.Evidence = append(finding.Evidence, models.Evidence{
			Type:     models.EvidenceUserAgentEntropy,
			Severity: models.SeverityMedium,
			Source:   string(a.Domain()),
			Detail:   fmt.Sprintf("user-agent entropy %.2f bits", entropy),
		})
	}

	finding.RiskScore = models.Float64Ptr(clamp01(score))
	finding.Confidence = volumeConfidence(len(in.Transactions), 20)
	finding.Narrative = fmt.Sprintf("device analysis over %d transactions: %d signals",
		len(in.Transactions), len(finding.Evidence))
	return Result{Finding: finding}, nil
}

// userAgentEntropy is the Shannon entropy of the user-agent distribution.
func userAgentEntropy(txs []models.Transaction) float64 {
	counts := make(map[string]int)
	total := 0
	for _, tx := range txs {
		if tx.UserAgent == "" {
			continue
		}
		counts[tx.UserAgent]++
		total++
	}
	if total == 0 {
		return 0
	}
	var entropy float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
