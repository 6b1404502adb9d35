// Package moderation turns classifier concepts into moderation verdicts.
//
// The decision is two-tier: any candidate concept at or above the global
// threshold makes the image unsafe, and concepts carrying a blocking label
// make it unsafe at the (usually lower) blocking-label threshold. Ties count
// as unsafe. Decide is pure and never fails.
package moderation

import (
	"math"

	"github.com/example/image-moderation/internal/classifier"
	"github.com/example/image-moderation/internal/labels"
)

const (
	DefaultGlobalThreshold        = 0.8
	DefaultBlockingLabelThreshold = 0.75

	// NoConceptsNote accompanies verdicts computed from an empty concept list.
	NoConceptsNote = "no concepts returned by classifier; no determination possible"
)

// Thresholds holds the global and per-label blocking thresholds, both in [0,1].
type Thresholds struct {
	Global        float64
	BlockingLabel float64
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{Global: DefaultGlobalThreshold, BlockingLabel: DefaultBlockingLabelThreshold}
}

// Verdict is the mode-agnostic outcome of a moderation decision.
type Verdict struct {
	IsUnsafe      bool
	MaxScore      float64
	SafeScore     float64
	Flagged       []classifier.Concept
	ThresholdUsed float64
	Note          string
}

// Policy is the read-only decision configuration shared by all requests.
type Policy struct {
	Labels     labels.Set
	Thresholds Thresholds
	// ExcludeSafe removes the safe label from the unsafe maximum.
	ExcludeSafe bool
}

// Decide applies the policy to concepts. override replaces the global
// threshold when it is non-nil and within [0,1].
func (p Policy) Decide(concepts []classifier.Concept, override *float64) Verdict {
	verdict := Verdict{
		Flagged:       []classifier.Concept{},
		ThresholdUsed: p.effectiveThreshold(override),
	}
	if len(concepts) == 0 {
		verdict.Note = NoConceptsNote
		return verdict
	}

	for _, raw := range concepts {
		c := classifier.Concept{Label: labels.Normalize(raw.Label), Score: clampScore(raw.Score)}

		if p.ExcludeSafe && p.Labels.IsSafe(c.Label) {
			verdict.SafeScore = math.Max(verdict.SafeScore, c.Score)
			continue
		}
		if p.Labels.IsSafe(c.Label) {
			verdict.SafeScore = math.Max(verdict.SafeScore, c.Score)
		}

		verdict.MaxScore = math.Max(verdict.MaxScore, c.Score)

		overGlobal := c.Score >= verdict.ThresholdUsed
		overBlocking := p.Labels.IsBlocking(c.Label) && c.Score >= p.Thresholds.BlockingLabel
		if overGlobal || overBlocking {
			verdict.IsUnsafe = true
			verdict.Flagged = append(verdict.Flagged, c)
		}
	}
	return verdict
}

func (p Policy) effectiveThreshold(override *float64) float64 {
	if override != nil && inUnitRange(*override) {
		return *override
	}
	return p.Thresholds.Global
}

// Valid reports whether both thresholds lie in [0,1].
func (t Thresholds) Valid() bool {
	return inUnitRange(t.Global) && inUnitRange(t.BlockingLabel)
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
