package config

import (
	"os"
	"strings"
)

// RunMode represents the execution context of the investigation engine.
type RunMode string

const (
	// ModeLive runs against real providers and the configured LLM.
	ModeLive RunMode = "live"

	// ModeDemo substitutes the mock LLM and the in-memory warehouse.
	// Its recursion limit is higher because the cheap mock permits more
	// iterations before the safety mechanisms need to trip.
	ModeDemo RunMode = "demo"
)

// Recursion limits per mode. Treated as configuration, overridable per
// investigation via Settings.
const (
	RecursionLimitLive = 120
	RecursionLimitDemo = 150
)

// DetectMode determines the run mode. TEST_MODE=demo selects the mock
// LLM substitution; anything else is live.
func DetectMode() RunMode {
	if strings.EqualFold(os.Getenv("TEST_MODE"), "demo") {
		return ModeDemo
	}
	return ModeLive
}

// IsDemo returns true when running with mock collaborators.
func IsDemo() bool {
	return DetectMode() == ModeDemo
}

// RecursionLimit returns the iteration cap for the mode.
func (m RunMode) RecursionLimit() int {
	if m == ModeDemo {
		return RecursionLimitDemo
	}
	return RecursionLimitLive
}

// String returns the string representation of the mode.
func (m RunMode) String() string {
	return string(m)
}
