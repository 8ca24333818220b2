package analyzers

import (
	"github.com/fraudlens/fraudlens/internal/llm"
	"github.com/fraudlens/fraudlens/internal/replay"
)

// Deps bundles the collaborators the analyzer set needs.
type Deps struct {
	Reputation IPReputationService
	SIEM       SIEMService
	LLM        llm.Client
	Recordings *replay.Cache
}

// All returns the five domain analyzers in the fixed dispatch order.
func All(deps Deps) []Analyzer {
	return []Analyzer{
		NewDeviceAnalyzer(),
		NewNetworkAnalyzer(deps.Reputation, deps.Recordings),
		NewLocationAnalyzer(),
		NewLogsAnalyzer(deps.SIEM, deps.Recordings),
		NewRiskAnalyzer(deps.LLM),
	}
}
