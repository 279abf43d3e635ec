package xp

import (
	"context"
)

// campaignReservedKeys never name a configured campaign or audience target.
var campaignReservedKeys = map[string]struct{}{
	ValueKey:     {},
	"audience":   {},
	"audiences":  {},
	"manifest":   {},
	"name":       {},
	"status":     {},
	"start-date": {},
	"end-date":   {},
}

// CampaignHandler resolves the campaign scope: a direct key lookup driven by
// an override or a UTM-style query parameter.
type CampaignHandler struct {
	visitor VisitorContext
	cfg     handlerConfig
}

// NewCampaignHandler constructs a campaign handler for one page view.
func NewCampaignHandler(visitor VisitorContext, opts ...HandlerOption) *CampaignHandler {
	return &CampaignHandler{
		visitor: visitor,
		cfg:     applyHandlerOptions(opts),
	}
}

// Scope implements Handler.
func (h *CampaignHandler) Scope() ScopeType { return ScopeCampaign }

// Resolve implements Handler. A configured campaign scope always yields a
// config when its audience gate passes; SelectedCampaign stays empty when
// the selection source names no configured campaign, so callers can still
// apply default decoration.
func (h *CampaignHandler) Resolve(ctx context.Context, meta *ScopeMap, ov Overrides) (ScopeConfig, error) {
	configured, order := configuredTargets(meta, campaignReservedKeys)
	if len(configured) == 0 {
		return nil, nil
	}

	config := &CampaignConfig{
		ConfiguredCampaigns: configured,
		CampaignIDs:         order,
	}
	for _, audience := range meta.ListAny("audience", "audiences") {
		config.Audiences = append(config.Audiences, ToClassToken(audience))
	}

	var gatedOut bool
	config.Resolved, gatedOut = h.cfg.resolveGate(ctx, h.visitor, config.Audiences, ov.Audience)
	if gatedOut {
		return nil, nil
	}

	source := ov.Value
	if source == "" {
		source = h.visitor.Params.Get("utm_campaign")
	}
	if token := ToClassToken(source); token != "" {
		if _, ok := config.ConfiguredCampaigns[token]; ok {
			config.SelectedCampaign = token
		}
	}
	return config, nil
}

// TargetURL implements Handler.
func (h *CampaignHandler) TargetURL(cfg ScopeConfig) string {
	config, ok := cfg.(*CampaignConfig)
	if !ok || config == nil || config.SelectedCampaign == "" {
		return ""
	}
	return config.ConfiguredCampaigns[config.SelectedCampaign]
}

// configuredTargets extracts the id → URL pairs of a campaign or audience
// scope map, skipping reserved keys, preserving declaration order.
func configuredTargets(meta *ScopeMap, reserved map[string]struct{}) (map[string]string, []string) {
	if meta.Len() == 0 {
		return nil, nil
	}
	targets := map[string]string{}
	var order []string
	for _, key := range meta.Keys() {
		if _, skip := reserved[key]; skip {
			continue
		}
		url := meta.Get(key)
		if url == "" {
			continue
		}
		targets[key] = url
		order = append(order, key)
	}
	return targets, order
}
