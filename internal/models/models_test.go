package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestWindow_Contains(t *testing.T) {
	w := Window{Start: ts("2026-01-01T00:00:00Z"), End: ts("2026-01-15T00:00:00Z")}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"start is included", w.Start, true},
		{"end is excluded", w.End, false},
		{"interior", ts("2026-01-07T12:00:00Z"), true},
		{"before", ts("2025-12-31T23:59:59Z"), false},
		{"after", ts("2026-01-15T00:00:01Z"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.at))
		})
	}
}

func TestWindow_CoversAndOverlap(t *testing.T) {
	outer := Window{Start: ts("2026-01-01T00:00:00Z"), End: ts("2026-02-01T00:00:00Z")}
	inner := Window{Start: ts("2026-01-10T00:00:00Z"), End: ts("2026-01-20T00:00:00Z")}
	disjoint := Window{Start: ts("2026-03-01T00:00:00Z"), End: ts("2026-03-05T00:00:00Z")}

	assert.True(t, outer.Covers(inner))
	assert.False(t, inner.Covers(outer))
	assert.True(t, outer.Covers(outer))

	assert.Equal(t, 10*24*time.Hour, outer.Overlap(inner))
	assert.Equal(t, 10*24*time.Hour, inner.Overlap(outer))
	assert.Equal(t, time.Duration(0), outer.Overlap(disjoint))
}

func TestWindow_ZeroLength(t *testing.T) {
	at := ts("2026-01-01T00:00:00Z")
	assert.True(t, Window{Start: at, End: at}.IsZeroLength())
	assert.True(t, Window{Start: at.Add(time.Hour), End: at}.IsZeroLength())
	assert.False(t, Window{Start: at, End: at.Add(time.Minute)}.IsZeroLength())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestTransaction_CardHash(t *testing.T) {
	tx := Transaction{BIN: "451234", LastFour: "9876"}
	assert.Equal(t, "451234|9876", tx.CardHash())
	assert.Equal(t, "", (&Transaction{}).CardHash())
}

func TestDomainFinding_Scored(t *testing.T) {
	var missing *DomainFinding
	assert.False(t, missing.Scored())
	assert.False(t, (&DomainFinding{Domain: DomainDevice}).Scored())

	zero := Float64Ptr(0.0)
	assert.True(t, (&DomainFinding{Domain: DomainDevice, RiskScore: zero}).Scored())
}

func TestInvestigation_Target(t *testing.T) {
	inv := Investigation{Entities: []Entity{
		{Type: EntityEmail, NormalizedValue: "a@b.co"},
		{Type: EntityDevice, NormalizedValue: "dev-1"},
	}}
	target := inv.Target()
	assert.Equal(t, CompoundAnd, target.Op)
	assert.Len(t, target.Entities, 2)
}
