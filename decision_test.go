package xp

import "testing"

func TestDeciderOverridePrecedence(t *testing.T) {
	names := []string{"control", "challenger-1", "challenger-2"}
	decider := NewDecider(WithRandFunc(func() float64 { return 0 }))

	cases := []struct {
		name     string
		override string
		want     string
	}{
		{name: "scoped override", override: "hero-test/challenger-2", want: "challenger-2"},
		{name: "bare variant override", override: "challenger-1", want: "challenger-1"},
		{name: "override normalized to class token", override: "hero-test/Challenger 2", want: "challenger-2"},
		{name: "unknown override falls back to draw", override: "hero-test/challenger-9", want: "control"},
		{name: "override for another experiment falls back", override: "other-test/challenger-1", want: "control"},
	}

	allocations := map[string]float64{"control": 50, "challenger-1": 25, "challenger-2": 25}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := decider.Select("hero-test", names, allocations, tc.override); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDeciderWeightedDraw(t *testing.T) {
	names := []string{"control", "challenger-1", "challenger-2"}
	allocations := map[string]float64{"control": 40, "challenger-1": 30, "challenger-2": 30}

	cases := []struct {
		name string
		draw float64
		want string
	}{
		{name: "low draw picks control", draw: 0.0, want: "control"},
		{name: "draw below first boundary", draw: 0.3999, want: "control"},
		{name: "draw in second band", draw: 0.40, want: "challenger-1"},
		{name: "draw in third band", draw: 0.70, want: "challenger-2"},
		{name: "draw near one picks last", draw: 0.9999, want: "challenger-2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decider := NewDecider(WithRandFunc(func() float64 { return tc.draw }))
			if got := decider.Select("exp", names, allocations, ""); got != tc.want {
				t.Fatalf("draw %v: expected %q, got %q", tc.draw, tc.want, got)
			}
		})
	}
}

func TestDeciderFallsBackToLastVariant(t *testing.T) {
	// Allocations that do not cover the whole range leave high draws
	// unassigned; the last variant absorbs them.
	decider := NewDecider(WithRandFunc(func() float64 { return 0.99 }))
	names := []string{"control", "challenger-1"}
	allocations := map[string]float64{"control": 10, "challenger-1": 10}
	if got := decider.Select("exp", names, allocations, ""); got != "challenger-1" {
		t.Fatalf("expected last variant fallback, got %q", got)
	}
}

func TestDeciderEmptyNames(t *testing.T) {
	decider := NewDecider()
	if got := decider.Select("exp", nil, nil, "exp/challenger-1"); got != "" {
		t.Fatalf("expected empty selection without variants, got %q", got)
	}
}
