package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/logging"
	"github.com/fraudlens/fraudlens/internal/models"
	"github.com/fraudlens/fraudlens/internal/replay"
)

// NetworkAnalyzer scores network-origin signals: external IP reputation,
// VPN/proxy markers, and ASN diversity. Reputation responses are
// recorded to the replay cache so reruns are deterministic.
type NetworkAnalyzer struct {
	reputation IPReputationService
	recordings *replay.Cache
}

// NewNetworkAnalyzer creates the network analyzer. The replay cache may
// be nil, in which case responses are not recorded.
func NewNetworkAnalyzer(reputation IPReputationService, recordings *replay.Cache) *NetworkAnalyzer {
	return &NetworkAnalyzer{reputation: reputation, recordings: recordings}
}

// Domain implements Analyzer.
func (a *NetworkAnalyzer) Domain() models.Domain { return models.DomainNetwork }

// Analyze implements Analyzer.
func (a *NetworkAnalyzer) Analyze(ctx context.Context, in Input) (Result, error) {
	finding := models.DomainFinding{Domain: a.Domain()}

	ips := distinctIPs(in.Transactions)
	if len(ips) == 0 {
		finding.Narrative = "no ip addresses in window; network signals unavailable"
		return Result{Finding: finding}, nil
	}

	var (
		worstScore float64
		vpnCount   int
		asns       = make(map[string]struct{})
	)
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		rep, err := a.lookup(ctx, ip)
		if err != nil {
			return Result{}, errors.Wrapf(err, errors.KindAnalyzerFailure,
				"ip reputation lookup failed for %s", ip)
		}

		if rep.Score > worstScore {
			worstScore = rep.Score
		}
		if rep.ASN != "" {
			asns[rep.ASN] = struct{}{}
		}
		if rep.IsVPN || rep.IsProxy {
			vpnCount++
		}
		if rep.Score >= 0.5 {
			finding.Evidence = append(finding.Evidence, models.Evidence{
				Type:     models.EvidenceIPReputation,
				Severity: severityForScore(rep.Score),
				Source:   string(a.Domain()),
				Detail:   fmt.Sprintf("ip %s reputation %.2f (asn %s)", ip, rep.Score, rep.ASN),
			})
		}
	}

	score := 0.6 * worstScore

	if vpnCount > 0 {
		score += 0.15
		finding.Evidence = append(finding.Evidence, models.Evidence{
			Type:     models.EvidenceVPNProxy,
			Severity: models.SeverityMedium,
			Source:   string(a.Domain()),
			Detail:   fmt.Sprintf("%d of %d addresses flagged vpn/proxy", vpnCount, len(ips)),
		})
	}

	if len(asns) >= 3 {
		score += 0.2
		finding.Evidence = append(finding.Evidence, models.Evidence{
			Type:     models.EvidenceASNDiversity,
			Severity: models.SeverityMedium,
			Source:   string(a.Domain()),
			Detail:   fmt.Sprintf("%d distinct ASNs across %d addresses", len(asns), len(ips)),
		})
	}

	finding.RiskScore = models.Float64Ptr(clamp01(score))
	finding.Confidence = volumeConfidence(len(ips), 5)
	finding.Narrative = fmt.Sprintf("network analysis over %d addresses: %d signals",
		len(ips), len(finding.Evidence))
	return Result{Finding: finding}, nil
}

// lookup consults the recording first so replays never call out, then
// the live collaborator, recording its response.
func (a *NetworkAnalyzer) lookup(ctx context.Context, ip string) (IPReputation, error) {
	invID, _ := logging.InvestigationID(ctx)
	key := "ip_reputation:" + ip

	if a.recordings != nil && invID != "" {
		if payload, ok, err := a.recordings.Lookup(invID, key); err == nil && ok {
			var rep IPReputation
			if err := json.Unmarshal(payload, &rep); err == nil {
				return rep, nil
			}
		}
	}

	rep, err := a.reputation.Lookup(ctx, ip)
	if err != nil {
		return IPReputation{}, err
	}

	if a.recordings != nil && invID != "" {
		if payload, err := json.Marshal(rep); err == nil {
			_ = a.recordings.Record(invID, key, payload)
		}
	}
	return rep, nil
}

func distinctIPs(txs []models.Transaction) []string {
	seen := make(map[string]struct{})
	var ips []string
	for _, tx := range txs {
		if tx.IP == "" {
			continue
		}
		if _, ok := seen[tx.IP]; ok {
			continue
		}
		seen[tx.IP] = struct{}{}
		ips = append(ips, tx.IP)
	}
	sort.Strings(ips)
	return ips
}

func severityForScore(score float64) models.Severity {
	switch {
	case score >= 0.8:
		return models.SeverityHigh
	case score >= 0.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
