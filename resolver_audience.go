package xp

import (
	"context"
)

// audienceReservedKeys mirror the campaign reserved set; the audience scope
// has no nested audience gate, but manifest and naming keys still never name
// a target.
var audienceReservedKeys = map[string]struct{}{
	ValueKey:   {},
	"manifest": {},
	"name":     {},
}

// AudienceHandler resolves the audience scope: the configured audiences are
// themselves the gate, and the first one satisfied (or an explicit override)
// selects the served content.
type AudienceHandler struct {
	visitor VisitorContext
	cfg     handlerConfig
}

// NewAudienceHandler constructs an audience handler for one page view.
func NewAudienceHandler(visitor VisitorContext, opts ...HandlerOption) *AudienceHandler {
	return &AudienceHandler{
		visitor: visitor,
		cfg:     applyHandlerOptions(opts),
	}
}

// Scope implements Handler.
func (h *AudienceHandler) Scope() ScopeType { return ScopeAudience }

// Resolve implements Handler. The configured keys double as the audience id
// set; SelectedAudience is the override when it names a configured audience,
// otherwise the first audience satisfied in declaration order.
func (h *AudienceHandler) Resolve(ctx context.Context, meta *ScopeMap, ov Overrides) (ScopeConfig, error) {
	configured, order := configuredTargets(meta, audienceReservedKeys)
	if len(configured) == 0 {
		return nil, nil
	}

	override := ov.Value
	if override == "" {
		override = ov.Audience
	}

	config := &AudienceConfig{
		ConfiguredAudiences: configured,
		Audiences:           order,
	}
	config.Resolved = h.cfg.registry.Resolve(ctx, h.visitor, order, override)
	if len(config.Resolved) > 0 {
		config.SelectedAudience = config.Resolved[0]
	}
	return config, nil
}

// TargetURL implements Handler.
func (h *AudienceHandler) TargetURL(cfg ScopeConfig) string {
	config, ok := cfg.(*AudienceConfig)
	if !ok || config == nil || config.SelectedAudience == "" {
		return ""
	}
	return config.ConfiguredAudiences[config.SelectedAudience]
}
