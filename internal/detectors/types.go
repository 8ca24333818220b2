package detectors

import (
	"github.com/fraudlens/fraudlens/internal/models"
)

// Input is everything a detector may consult. Detectors are stateless
// and deterministic over their input.
type Input struct {
	Target       models.Entity
	Window       models.Window
	Transactions []models.Transaction

	// Baseline holds per-merchant historical statistics for the
	// merchant-local anomaly detector. Nil skips the detector.
	Baseline *MerchantBaseline

	// CustomerTenureDays maps normalized email to account tenure.
	// Customers with tenure >= 90 days suppress merchant anomalies.
	CustomerTenureDays map[string]int
}

// Result is a single detector verdict.
type Result struct {
	Name     string            `json:"name"`
	Detected bool              `json:"detected"`
	Severity models.Severity   `json:"severity,omitempty"`
	Evidence []models.Evidence `json:"evidence,omitempty"`
}

// Detector is the shared contract for the post-hoc pattern detectors.
type Detector interface {
	Name() string
	Detect(in Input) Result
}

// MerchantBaseline is the historical profile the anomaly detector
// compares the window against.
type MerchantBaseline struct {
	AOVMean    float64            `json:"aov_mean"`
	AOVStd     float64            `json:"aov_std"`
	BINMix     map[string]float64 `json:"bin_mix"`
	NightRatio float64            `json:"night_ratio"`
}

// All returns the standard detector set in execution order.
func All() []Detector {
	return []Detector{
		NewVelocityDetector(),
		NewGeoImpossibilityDetector(),
		NewMerchantAnomalyDetector(),
		NewLinkRingDetector(),
	}
}
