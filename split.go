package xp

import (
	"strconv"
)

// InferSplits fills the unspecified allocations of variants in place so the
// full set sums to 1: the remainder left by explicit splits is divided
// evenly, to 4 decimal places, among variants lacking one.
//
// When every variant already carries an explicit split no mutation occurs,
// even if the splits do not sum to 1; that input is undefined and passed
// through untouched.
func InferSplits(variants []*Variant) {
	remaining := 1.0
	unspecified := 0
	for _, v := range variants {
		if v == nil {
			continue
		}
		if v.PercentageSplit == "" {
			unspecified++
			continue
		}
		if split, err := strconv.ParseFloat(v.PercentageSplit, 64); err == nil {
			remaining -= split
		}
	}
	if unspecified == 0 {
		return
	}
	share := remaining / float64(unspecified)
	formatted := strconv.FormatFloat(share, 'f', 4, 64)
	for _, v := range variants {
		if v != nil && v.PercentageSplit == "" {
			v.PercentageSplit = formatted
		}
	}
}

// splitValue parses a variant's allocation, defaulting to 0.
func splitValue(v *Variant) float64 {
	if v == nil || v.PercentageSplit == "" {
		return 0
	}
	split, err := strconv.ParseFloat(v.PercentageSplit, 64)
	if err != nil {
		return 0
	}
	return split
}
