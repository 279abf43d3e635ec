package xp

import (
	"math/rand/v2"
	"strings"
)

// DeciderOption configures a Decider.
type DeciderOption func(*Decider)

// WithRandFunc replaces the uniform [0,1) source used for weighted draws.
// Tests inject a deterministic source here.
func WithRandFunc(fn func() float64) DeciderOption {
	return func(d *Decider) {
		if fn != nil {
			d.randFn = fn
		}
	}
}

// Decider selects one variant from normalized allocations, honoring
// overrides before falling back to a weighted random draw.
type Decider struct {
	randFn func() float64
}

// NewDecider constructs a Decider drawing from math/rand by default.
func NewDecider(opts ...DeciderOption) *Decider {
	d := &Decider{randFn: rand.Float64}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Select picks a variant name. Precedence, first match wins:
//
//  1. override of the form "<scopeID>/<variant>" naming a known variant;
//  2. a bare override matching a known variant name;
//  3. a weighted draw uniform over [0,100), selecting the first variant
//     whose cumulative allocation boundary exceeds the draw. allocations
//     holds percentages (0..100); cumulative order follows names, control
//     first.
func (d *Decider) Select(scopeID string, names []string, allocations map[string]float64, override string) string {
	if len(names) == 0 {
		return ""
	}
	if forced := forcedVariant(scopeID, names, override); forced != "" {
		return forced
	}

	draw := d.randFn() * 100
	boundary := 0.0
	for _, name := range names {
		boundary += allocations[name]
		if boundary > draw {
			return name
		}
	}
	return names[len(names)-1]
}

func forcedVariant(scopeID string, names []string, override string) string {
	if override == "" {
		return ""
	}
	candidate := override
	if scopeID != "" {
		if rest, ok := strings.CutPrefix(override, scopeID+"/"); ok {
			candidate = rest
		}
	}
	candidate = ToClassToken(candidate)
	for _, name := range names {
		if name == candidate {
			return name
		}
	}
	return ""
}
