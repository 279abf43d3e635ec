package xp

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"
)

// ExperimentHandler resolves the experiment scope: status and date gating,
// audience gating, split normalization and variant selection.
type ExperimentHandler struct {
	visitor VisitorContext
	cfg     handlerConfig
}

// NewExperimentHandler constructs an experiment handler for one page view.
func NewExperimentHandler(visitor VisitorContext, opts ...HandlerOption) *ExperimentHandler {
	return &ExperimentHandler{
		visitor: visitor,
		cfg:     applyHandlerOptions(opts),
	}
}

// Scope implements Handler.
func (h *ExperimentHandler) Scope() ScopeType { return ScopeExperiment }

// Resolve implements Handler. It returns nil when the metadata carries no
// experiment declaration.
func (h *ExperimentHandler) Resolve(ctx context.Context, meta *ScopeMap, ov Overrides) (ScopeConfig, error) {
	if meta.Len() == 0 {
		return nil, nil
	}
	id := ToClassToken(meta.Value())
	if id == "" {
		return nil, nil
	}

	config := &ExperimentConfig{
		ID:     id,
		Label:  meta.Get("name"),
		Status: meta.Get("status"),
	}
	if config.Label == "" {
		config.Label = id
	}
	if config.Status == "" {
		config.Status = "active"
	}
	config.StartDate = h.parseDate(meta, "start-date")
	config.EndDate = h.parseDate(meta, "end-date")
	for _, audience := range meta.ListAny("audience", "audiences") {
		config.Audiences = append(config.Audiences, ToClassToken(audience))
	}

	h.buildVariants(config, meta)
	InferSplits(h.orderedVariants(config))

	config.Resolved, _ = h.cfg.resolveGate(ctx, h.visitor, config.Audiences, ov.Audience)
	config.Run = h.runs(config, ov)
	if config.Run {
		config.SelectedVariant = h.cfg.decider.Select(id, config.VariantNames, h.allocations(config), ov.Value)
	}
	return config, nil
}

// TargetURL implements Handler: the first page of the selected variant when
// the experiment runs.
func (h *ExperimentHandler) TargetURL(cfg ScopeConfig) string {
	config, ok := cfg.(*ExperimentConfig)
	if !ok || config == nil || !config.Run {
		return ""
	}
	variant := config.Variants[config.SelectedVariant]
	if variant == nil || len(variant.Pages) == 0 {
		return ""
	}
	return variant.Pages[0]
}

// runs evaluates the experiment gates: run-eligible status or a forcing
// override, date-window containment, audience gating, and override-audience
// compatibility.
func (h *ExperimentHandler) runs(config *ExperimentConfig, ov Overrides) bool {
	if !statusRunEligible(config.Status) && !ov.forces(config.ID) {
		return false
	}
	if !inWindow(h.visitor.timestamp(), config.StartDate, config.EndDate) {
		return false
	}
	if config.Resolved != nil && len(config.Resolved) == 0 {
		return false
	}
	if ov.Audience != "" && !slices.Contains(config.Audiences, ToClassToken(ov.Audience)) {
		return false
	}
	return true
}

// buildVariants assembles the implicit control plus the declared
// challengers. The "variants" value is either a count ("2") or a list of
// challenger page URLs; per-variant keys ("challenger-1") supply or override
// pages either way. "split" lists challenger percentages in order.
func (h *ExperimentHandler) buildVariants(config *ExperimentConfig, meta *ScopeMap) {
	config.VariantNames = []string{ControlVariant}
	config.Variants = map[string]*Variant{
		ControlVariant: {
			Label: "Control",
			Pages: []string{h.visitor.Path()},
		},
	}

	declared := meta.List("variants")
	var challengers int
	if len(declared) == 1 {
		if count, err := strconv.Atoi(declared[0]); err == nil && count > 0 {
			challengers = count
			declared = nil
		}
	}
	if challengers == 0 {
		challengers = len(declared)
	}

	for i := 0; i < challengers; i++ {
		name := fmt.Sprintf("challenger-%d", i+1)
		variant := &Variant{Label: fmt.Sprintf("Challenger %d", i+1)}
		if i < len(declared) {
			variant.Pages = []string{declared[i]}
		}
		if pages := meta.List(name); len(pages) > 0 {
			variant.Pages = pages
		}
		config.VariantNames = append(config.VariantNames, name)
		config.Variants[name] = variant
	}

	splits := meta.List("split")
	for i, raw := range splits {
		name := fmt.Sprintf("challenger-%d", i+1)
		variant := config.Variants[name]
		if variant == nil {
			break
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.cfg.log.Warn("unparseable split value",
				zap.String("experiment", config.ID),
				zap.String("split", raw))
			continue
		}
		if value > 1 {
			value /= 100
		}
		variant.PercentageSplit = strconv.FormatFloat(value, 'f', 4, 64)
	}
}

// orderedVariants returns variants in declaration order for InferSplits.
func (h *ExperimentHandler) orderedVariants(config *ExperimentConfig) []*Variant {
	out := make([]*Variant, 0, len(config.VariantNames))
	for _, name := range config.VariantNames {
		out = append(out, config.Variants[name])
	}
	return out
}

// allocations converts decimal splits into the percentage weights the
// decision draw works with.
func (h *ExperimentHandler) allocations(config *ExperimentConfig) map[string]float64 {
	out := make(map[string]float64, len(config.VariantNames))
	for _, name := range config.VariantNames {
		out[name] = splitValue(config.Variants[name]) * 100
	}
	return out
}

func (h *ExperimentHandler) parseDate(meta *ScopeMap, key string) *Instant {
	raw := meta.Get(key)
	instant, err := ParseInstant(raw)
	if err != nil {
		h.cfg.log.Warn("unparseable experiment date",
			zap.String("key", key),
			zap.String("value", raw))
		return nil
	}
	return instant
}
