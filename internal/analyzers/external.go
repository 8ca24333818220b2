package analyzers

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/fraudlens/fraudlens/internal/models"
)

// StaticIPReputation is the deterministic reputation collaborator used
// in demo mode and in tests. Scores derive from a hash of the address,
// with an override table for scripted scenarios.
type StaticIPReputation struct {
	// Overrides maps ip -> reputation, checked before the hash fallback.
	Overrides map[string]IPReputation
	// Fail, when set, makes every lookup return this error.
	Fail error
}

// NewStaticIPReputation creates the demo reputation service.
func NewStaticIPReputation() *StaticIPReputation {
	return &StaticIPReputation{}
}

// Lookup implements IPReputationService.
func (s *StaticIPReputation) Lookup(ctx context.Context, ip string) (IPReputation, error) {
	if err := ctx.Err(); err != nil {
		return IPReputation{}, err
	}
	if s.Fail != nil {
		return IPReputation{}, s.Fail
	}
	if rep, ok := s.Overrides[ip]; ok {
		rep.IP = ip
		return rep, nil
	}

	h := fnv.New32a()
	h.Write([]byte(ip))
	sum := h.Sum32()

	rep := IPReputation{
		IP:    ip,
		Score: float64(sum%100) / 500, // fallback stays in the clean band
		ASN:   fmt.Sprintf("AS%d", 1000+sum%9000),
	}
	// Addresses in well-known hosting ranges read as VPN exits.
	if strings.HasPrefix(ip, "185.") || strings.HasPrefix(ip, "45.") {
		rep.IsVPN = true
		rep.Score += 0.3
	}
	return rep, nil
}

// StaticSIEM is the deterministic log-search collaborator for demo mode
// and tests. Events are scripted per normalized entity value.
type StaticSIEM struct {
	// Events maps normalized entity value -> scripted hits.
	Events map[string][]SIEMEvent
	// Fail, when set, makes every search return this error.
	Fail error
}

// NewStaticSIEM creates the demo log-search service.
func NewStaticSIEM() *StaticSIEM {
	return &StaticSIEM{}
}

// Search implements SIEMService.
func (s *StaticSIEM) Search(ctx context.Context, target models.Entity, w models.Window) ([]SIEMEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Fail != nil {
		return nil, s.Fail
	}
	return s.Events[target.NormalizedValue], nil
}
