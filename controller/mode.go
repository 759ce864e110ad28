package controller

import "time"

// Mode is the controller's operating regime, from firefighting to
// fine-tuning.
type Mode uint8

const (
	// ModeEmergency reacts to severe latency overruns.
	ModeEmergency Mode = iota
	// ModeAggressive chases large quality or latency gaps.
	ModeAggressive
	// ModeBalanced is the steady operating state.
	ModeBalanced
	// ModeConservative applies small corrections near the targets.
	ModeConservative
	// ModeStable freezes exploration when both targets are met with
	// margin.
	ModeStable
)

// String returns the human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeEmergency:
		return "emergency"
	case ModeAggressive:
		return "aggressive"
	case ModeBalanced:
		return "balanced"
	case ModeConservative:
		return "conservative"
	case ModeStable:
		return "stable"
	default:
		return "unknown"
	}
}

// searchProfile sets the candidate-search effort for a mode.
type searchProfile struct {
	exploration float32
	mutation    float32
	population  int
	generations int
}

// profiles maps each mode to its search effort. Emergency explores
// hard and wide; stable barely moves.
var profiles = map[Mode]searchProfile{
	ModeEmergency:    {exploration: 0.8, mutation: 0.5, population: 8, generations: 2},
	ModeAggressive:   {exploration: 0.5, mutation: 0.3, population: 6, generations: 2},
	ModeBalanced:     {exploration: 0.3, mutation: 0.15, population: 4, generations: 1},
	ModeConservative: {exploration: 0.15, mutation: 0.08, population: 3, generations: 1},
	ModeStable:       {exploration: 0.05, mutation: 0.02, population: 2, generations: 1},
}

// latencyPressure quantizes the realized-to-target latency ratio into
// coarse steps. Scheduling jitter moves the raw ratio on every run;
// the steps keep the mode decision and the candidate search stable so
// a frame sequence encodes to the same bytes under varying load. The
// raw wall clock reaches only the telemetry.
func latencyPressure(realized, target time.Duration) float64 {
	if target <= 0 {
		return 0.25
	}
	ratio := float64(realized) / float64(target)
	switch {
	case ratio > 2:
		return 2.5
	case ratio > 1.25:
		return 1.5
	case ratio > 1:
		return 1.1
	case ratio > 0.75:
		return 0.85
	case ratio > 0.5:
		return 0.6
	default:
		return 0.25
	}
}

// decideMode picks the regime from the latency pressure and quality
// gap. Latency dominates: overruns are user-visible immediately.
func decideMode(pressure float64, realizedQuality, targetQuality float32) Mode {
	gap := targetQuality - realizedQuality

	switch {
	case pressure > 2:
		return ModeEmergency
	case pressure > 1.25 || gap > 0.2:
		return ModeAggressive
	case pressure < 0.5 && gap < 0.02 && gap > -0.02:
		return ModeStable
	case pressure < 0.75 && gap < 0.05:
		return ModeConservative
	default:
		return ModeBalanced
	}
}
