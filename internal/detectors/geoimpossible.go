package detectors

import (
	"fmt"
	"math"
	"sort"

	"github.com/fraudlens/fraudlens/internal/models"
)

// impossibleSpeedMPH is the travel speed above which consecutive
// transactions cannot belong to one traveling cardholder.
const impossibleSpeedMPH = 600.0

// countryCentroids gives coarse coordinates per ISO country code. Coarse
// is enough: the detector cares about continental-scale jumps, not city
// pairs.
var countryCentroids = map[string][2]float64{
	"US": {39.8, -98.6}, "CA": {56.1, -106.3}, "MX": {23.6, -102.5},
	"BR": {-14.2, -51.9}, "AR": {-38.4, -63.6}, "CO": {4.6, -74.3},
	"GB": {55.4, -3.4}, "IE": {53.4, -8.2}, "FR": {46.2, 2.2},
	"DE": {51.2, 10.4}, "ES": {40.5, -3.7}, "PT": {39.4, -8.2},
	"IT": {41.9, 12.6}, "NL": {52.1, 5.3}, "BE": {50.5, 4.5},
	"CH": {46.8, 8.2}, "AT": {47.5, 14.6}, "PL": {51.9, 19.1},
	"SE": {60.1, 18.6}, "NO": {60.5, 8.5}, "DK": {56.3, 9.5},
	"FI": {61.9, 25.7}, "RU": {61.5, 105.3}, "UA": {48.4, 31.2},
	"TR": {39.0, 35.2}, "IL": {31.0, 34.9}, "AE": {23.4, 53.8},
	"SA": {23.9, 45.1}, "EG": {26.8, 30.8}, "ZA": {-30.6, 22.9},
	"NG": {9.1, 8.7}, "KE": {-0.0, 37.9}, "MA": {31.8, -7.1},
	"IN": {20.6, 79.0}, "PK": {30.4, 69.3}, "BD": {23.7, 90.4},
	"CN": {35.9, 104.2}, "JP": {36.2, 138.3}, "KR": {35.9, 127.8},
	"TW": {23.7, 121.0}, "HK": {22.3, 114.2}, "SG": {1.4, 103.8},
	"MY": {4.2, 101.9}, "TH": {15.9, 100.9}, "VN": {14.1, 108.3},
	"PH": {12.9, 121.8}, "ID": {-0.8, 113.9}, "AU": {-25.3, 133.8},
	"NZ": {-40.9, 174.9},
}

// GeoImpossibilityDetector flags consecutive transactions whose implied
// travel speed exceeds the impossible threshold. A VPN can fake the
// location, so a hit requires corroboration: the same device id or the
// same BIN|last4 on both legs.
type GeoImpossibilityDetector struct{}

// NewGeoImpossibilityDetector creates the impossible-travel detector.
func NewGeoImpossibilityDetector() *GeoImpossibilityDetector {
	return &GeoImpossibilityDetector{}
}

// Name implements Detector.
func (d *GeoImpossibilityDetector) Name() string { return "geo_impossibility" }

// Detect implements Detector.
func (d *GeoImpossibilityDetector) Detect(in Input) Result {
	result := Result{Name: d.Name()}

	txs := make([]models.Transaction, len(in.Transactions))
	copy(txs, in.Transactions)
	sort.Slice(txs, func(i, j int) bool { return txs[i].Datetime.Before(txs[j].Datetime) })

	for i := 1; i < len(txs); i++ {
		prev, cur := txs[i-1], txs[i]

		corroborated := (prev.DeviceID != "" && prev.DeviceID == cur.DeviceID) ||
			(prev.CardHash() != "" && prev.CardHash() == cur.CardHash())
		if !corroborated {
			continue
		}

		speed, ok := impliedSpeedMPH(prev, cur)
		if !ok || speed <= impossibleSpeedMPH {
			continue
		}

		result.Detected = true
		result.Severity = models.SeverityHigh
		result.Evidence = append(result.Evidence, models.Evidence{
			Type:     models.EvidenceImpossibleTravel,
			Severity: models.SeverityHigh,
			Source:   d.Name(),
			Detail: fmt.Sprintf("tx %s (%s) to tx %s (%s): %.0f mph with shared %s",
				prev.TxID, prev.IPCountry, cur.TxID, cur.IPCountry, speed,
				corroborationKind(prev, cur)),
		})
	}

	return result
}

func corroborationKind(a, b models.Transaction) string {
	if a.DeviceID != "" && a.DeviceID == b.DeviceID {
		return "device"
	}
	return "card"
}

// impliedSpeedMPH computes the great-circle speed between the country
// centroids of two transactions. Same country or unknown countries give
// no speed.
func impliedSpeedMPH(a, b models.Transaction) (float64, bool) {
	if a.IPCountry == "" || b.IPCountry == "" || a.IPCountry == b.IPCountry {
		return 0, false
	}
	ca, okA := countryCentroids[a.IPCountry]
	cb, okB := countryCentroids[b.IPCountry]
	if !okA || !okB {
		return 0, false
	}

	hours := b.Datetime.Sub(a.Datetime).Hours()
	if hours <= 0 {
		hours = 1.0 / 3600 // same-second transactions: one second floor
	}
	return haversineMiles(ca[0], ca[1], cb[0], cb[1]) / hours, true
}

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusMiles = 3958.8
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(a))
}
