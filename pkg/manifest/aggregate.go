package manifest

import (
	"reflect"
	"regexp"
	"sort"

	"go.uber.org/zap"
)

// GroupKeyFunc extracts the grouping key of one raw row.
type GroupKeyFunc func(Row) string

// SelectorKey groups rows by target selector, the grouping campaigns and
// audiences use.
func SelectorKey(row Row) string {
	return firstString(row, "selector")
}

// ExperimentKey groups rows by experiment id, falling back to the selector
// for rows without one.
func ExperimentKey(row Row) string {
	if name := firstString(row, "experiment", "name"); name != "" {
		return name
	}
	return firstString(row, "selector")
}

// defaultPluralizable matches the keys allowed to differ across rows of one
// group; their values collect into an ordered sequence instead of warning.
var defaultPluralizable = regexp.MustCompile(`^(url|page|audience|name|split)s?$`)

// AggregateOption configures Aggregate.
type AggregateOption func(*aggregateConfig)

type aggregateConfig struct {
	pluralizable *regexp.Regexp
	log          *zap.Logger
}

// WithPluralizable replaces the pattern of keys allowed to vary within a
// group.
func WithPluralizable(pattern *regexp.Regexp) AggregateOption {
	return func(cfg *aggregateConfig) {
		if pattern != nil {
			cfg.pluralizable = pattern
		}
	}
}

// WithAggregateLogger attaches a zap logger for consistency warnings.
func WithAggregateLogger(log *zap.Logger) AggregateOption {
	return func(cfg *aggregateConfig) {
		if log != nil {
			cfg.log = log
		}
	}
}

// Aggregate merges rows sharing a group key into one row per group,
// preserving first-seen group order. A key holding the same value across the
// group folds to that value; differing values either collect into an ordered
// sequence (pluralizable keys) or keep the first-seen value with a warning,
// since page-invariant properties should agree across rows of one target.
func Aggregate(rows []Row, key GroupKeyFunc, opts ...AggregateOption) []Row {
	cfg := aggregateConfig{
		pluralizable: defaultPluralizable,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	merged := map[string]Row{}
	var order []string
	for _, row := range rows {
		group := key(row)
		if group == "" {
			continue
		}
		target, seen := merged[group]
		if !seen {
			target = Row{}
			merged[group] = target
			order = append(order, group)
		}
		foldRow(target, row, group, cfg)
	}

	out := make([]Row, 0, len(order))
	for _, group := range order {
		out = append(out, merged[group])
	}
	return out
}

func foldRow(target, row Row, group string, cfg aggregateConfig) {
	for _, key := range sortedKeys(row) {
		value := row[key]
		existing, present := target[key]
		if !present {
			target[key] = value
			continue
		}
		if reflect.DeepEqual(existing, value) {
			continue
		}
		if cfg.pluralizable.MatchString(key) {
			target[key] = appendValue(existing, value)
			continue
		}
		cfg.log.Warn("manifest rows disagree on page-invariant property",
			zap.String("group", group),
			zap.String("key", key))
	}
}

// appendValue collects differing values into an ordered sequence, flattening
// any sequence already accumulated.
func appendValue(existing, value any) []any {
	var out []any
	if items, ok := existing.([]any); ok {
		out = append(out, items...)
	} else {
		out = append(out, existing)
	}
	if items, ok := value.([]any); ok {
		return append(out, items...)
	}
	return append(out, value)
}

// sortedKeys keeps fold order deterministic so conflict warnings and
// pluralized sequences are stable run to run.
func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
