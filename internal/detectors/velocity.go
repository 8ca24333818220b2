package detectors

import (
	"fmt"
	"sort"
	"time"

	"github.com/fraudlens/fraudlens/internal/models"
)

// Velocity thresholds. Either one firing flags the email.
const (
	velocityTxPer5MinThreshold         = 3
	velocityMerchantsPer60MinThreshold = 3
)

// VelocityDetector flags card-testing and account-abuse bursts: too many
// transactions per 5 minutes, too many distinct merchants per hour, and
// long-lived IP reuse per email.
type VelocityDetector struct{}

// NewVelocityDetector creates the velocity/reuse detector.
func NewVelocityDetector() *VelocityDetector {
	return &VelocityDetector{}
}

// Name implements Detector.
func (d *VelocityDetector) Name() string { return "velocity_reuse" }

// Detect implements Detector.
func (d *VelocityDetector) Detect(in Input) Result {
	result := Result{Name: d.Name()}

	byEmail := make(map[string][]models.Transaction)
	for _, tx := range in.Transactions {
		if tx.EmailNormalized == "" {
			continue
		}
		byEmail[tx.EmailNormalized] = append(byEmail[tx.EmailNormalized], tx)
	}

	emails := make([]string, 0, len(byEmail))
	for email := range byEmail {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	for _, email := range emails {
		txs := byEmail[email]
		sort.Slice(txs, func(i, j int) bool { return txs[i].Datetime.Before(txs[j].Datetime) })

		maxPer5Min := maxWithin(txs, 5*time.Minute, func(tx models.Transaction) string { return tx.TxID })
		maxMerchants := maxWithin(txs, 60*time.Minute, func(tx models.Transaction) string { return tx.MerchantID })
		reuseDays := ipReuseDays(txs)

		if maxMerchants >= velocityMerchantsPer60MinThreshold || maxPer5Min >= velocityTxPer5MinThreshold {
			result.Detected = true
			severity := models.SeverityMedium
			if maxMerchants >= velocityMerchantsPer60MinThreshold && maxPer5Min >= velocityTxPer5MinThreshold {
				severity = models.SeverityHigh
			}
			if severity == models.SeverityHigh || result.Severity != models.SeverityHigh {
				result.Severity = severity
			}
			result.Evidence = append(result.Evidence, models.Evidence{
				Type:     models.EvidenceVelocity,
				Severity: severity,
				Source:   d.Name(),
				Detail: fmt.Sprintf("email %s: max %d tx/5min, %d distinct merchants/60min, ip reuse %d days",
					email, maxPer5Min, maxMerchants, reuseDays),
			})
		}
	}

	return result
}

// maxWithin slides a window of the given span over time-ordered
// transactions and returns the highest distinct count of key().
func maxWithin(txs []models.Transaction, span time.Duration, key func(models.Transaction) string) int {
	best := 0
	for i := range txs {
		distinct := make(map[string]struct{})
		for j := i; j < len(txs); j++ {
			if txs[j].Datetime.Sub(txs[i].Datetime) >= span {
				break
			}
			distinct[key(txs[j])] = struct{}{}
		}
		if len(distinct) > best {
			best = len(distinct)
		}
	}
	return best
}

// ipReuseDays returns the longest observed reuse span of a single IP.
func ipReuseDays(txs []models.Transaction) int {
	first := make(map[string]time.Time)
	last := make(map[string]time.Time)
	for _, tx := range txs {
		if tx.IP == "" {
			continue
		}
		if _, ok := first[tx.IP]; !ok {
			first[tx.IP] = tx.Datetime
		}
		last[tx.IP] = tx.Datetime
	}
	best := 0
	for ip, start := range first {
		days := int(last[ip].Sub(start).Hours() / 24)
		if days > best {
			best = days
		}
	}
	return best
}
