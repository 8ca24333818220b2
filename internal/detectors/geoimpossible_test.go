package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fraudlens/fraudlens/internal/models"
)

func TestGeoImpossibilityDetector(t *testing.T) {
	d := NewGeoImpossibilityDetector()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		txs          []models.Transaction
		wantDetected bool
	}{
		{
			name: "us to japan in one hour with shared device",
			txs: []models.Transaction{
				{TxID: "t1", IPCountry: "US", DeviceID: "dev-1", Datetime: base},
				{TxID: "t2", IPCountry: "JP", DeviceID: "dev-1", Datetime: base.Add(time.Hour)},
			},
			wantDetected: true,
		},
		{
			name: "us to japan with shared card",
			txs: []models.Transaction{
				{TxID: "t1", IPCountry: "US", BIN: "451234", LastFour: "9876", Datetime: base},
				{TxID: "t2", IPCountry: "JP", BIN: "451234", LastFour: "9876", Datetime: base.Add(time.Hour)},
			},
			wantDetected: true,
		},
		{
			name: "no corroboration is a vpn false positive",
			txs: []models.Transaction{
				{TxID: "t1", IPCountry: "US", DeviceID: "dev-1", Datetime: base},
				{TxID: "t2", IPCountry: "JP", DeviceID: "dev-2", Datetime: base.Add(time.Hour)},
			},
			wantDetected: false,
		},
		{
			name: "plausible travel is fine",
			txs: []models.Transaction{
				{TxID: "t1", IPCountry: "US", DeviceID: "dev-1", Datetime: base},
				{TxID: "t2", IPCountry: "GB", DeviceID: "dev-1", Datetime: base.Add(12 * time.Hour)},
			},
			wantDetected: false,
		},
		{
			name: "same country never flags",
			txs: []models.Transaction{
				{TxID: "t1", IPCountry: "US", DeviceID: "dev-1", Datetime: base},
				{TxID: "t2", IPCountry: "US", DeviceID: "dev-1", Datetime: base.Add(time.Second)},
			},
			wantDetected: false,
		},
		{
			name: "unknown country is ignored",
			txs: []models.Transaction{
				{TxID: "t1", IPCountry: "XX", DeviceID: "dev-1", Datetime: base},
				{TxID: "t2", IPCountry: "JP", DeviceID: "dev-1", Datetime: base.Add(time.Minute)},
			},
			wantDetected: false,
		},
		{
			name: "same second falls back to one second floor",
			txs: []models.Transaction{
				{TxID: "t1", IPCountry: "US", DeviceID: "dev-1", Datetime: base},
				{TxID: "t2", IPCountry: "BR", DeviceID: "dev-1", Datetime: base},
			},
			wantDetected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(Input{Transactions: tt.txs})
			assert.Equal(t, tt.wantDetected, got.Detected)
			if tt.wantDetected {
				assert.Equal(t, models.SeverityHigh, got.Severity)
				assert.NotEmpty(t, got.Evidence)
			}
		})
	}
}

func TestHaversineMiles(t *testing.T) {
	// US centroid to GB centroid is roughly 4200 miles.
	d := haversineMiles(39.8, -98.6, 55.4, -3.4)
	assert.InDelta(t, 4200, d, 300)
	assert.InDelta(t, 0, haversineMiles(10, 10, 10, 10), 1e-9)
}
