// Package manifest ingests remotely hosted, row-oriented fragment
// configuration: fetch, schema validation, aggregation of rows sharing a
// target, and decoding into typed entries with exactly-once application
// guards.
package manifest

import (
	"slices"
	"sync/atomic"
)

// Entry is one merged manifest row: the fragment-level configuration for a
// single target selector (or experiment id).
type Entry struct {
	Selector string
	// URLs lists the content paths this entry can serve, in row order.
	URLs []string
	// Pages optionally scopes the entry to specific page paths.
	Pages []string
	// Audiences optionally gates the entry.
	Audiences []string
	// Names carries custom names (experiment id, variant labels).
	Names []string
	// Splits holds percentage allocations aligned with URLs.
	Splits []float64
	Status string
	// StartDate and EndDate are kept raw; resolvers parse them.
	StartDate string
	EndDate   string

	applied atomic.Bool
}

// MarkApplied flips the entry to its terminal applied state. It returns true
// exactly once; later calls report false so re-entrant notification handling
// stays idempotent.
func (e *Entry) MarkApplied() bool {
	return e.applied.CompareAndSwap(false, true)
}

// Applied reports whether the entry reached its terminal state.
func (e *Entry) Applied() bool {
	return e.applied.Load()
}

// Name returns the entry's first custom name, or "".
func (e *Entry) Name() string {
	if len(e.Names) == 0 {
		return ""
	}
	return e.Names[0]
}

// AppliesTo reports whether the entry is in scope on pagePath. Entries
// without page scoping apply everywhere.
func (e *Entry) AppliesTo(pagePath string) bool {
	if len(e.Pages) == 0 {
		return true
	}
	return slices.Contains(e.Pages, pagePath)
}
