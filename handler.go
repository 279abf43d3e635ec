package xp

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ControlVariant is the implicit first variant of every experiment.
const ControlVariant = "control"

// Handler resolves one scope type. The three implementations are
// NewExperimentHandler, NewCampaignHandler and NewAudienceHandler.
type Handler interface {
	// Scope identifies the scope type this handler resolves.
	Scope() ScopeType
	// Resolve turns one target's scope metadata plus override context into
	// a configuration. A nil config with nil error means the scope is not
	// configured (or gated out) for this target.
	Resolve(ctx context.Context, meta *ScopeMap, ov Overrides) (ScopeConfig, error)
	// TargetURL returns the content path to substitute for cfg, or ""
	// when the resolution serves the original content.
	TargetURL(cfg ScopeConfig) string
}

// AppliedFunc is the scope-specific side-effect callback, invoked exactly
// once per resolved target. servedURL is the substituted content path or ""
// when no swap occurred. Implementations must not panic; a panic aborts the
// remaining pipeline for that target.
type AppliedFunc func(el *html.Node, cfg ScopeConfig, servedURL string)

// HandlerOption configures the shared handler dependencies.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	registry *Registry
	decider  *Decider
	log      *zap.Logger
}

func applyHandlerOptions(opts []HandlerOption) handlerConfig {
	cfg := handlerConfig{
		registry: NewRegistry(),
		decider:  NewDecider(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithAudienceRegistry wires the audience predicate registry.
func WithAudienceRegistry(registry *Registry) HandlerOption {
	return func(cfg *handlerConfig) {
		if registry != nil {
			cfg.registry = registry
		}
	}
}

// WithDecider wires the variant decision evaluator.
func WithDecider(decider *Decider) HandlerOption {
	return func(cfg *handlerConfig) {
		if decider != nil {
			cfg.decider = decider
		}
	}
}

// WithHandlerLogger attaches a zap logger.
func WithHandlerLogger(log *zap.Logger) HandlerOption {
	return func(cfg *handlerConfig) {
		if log != nil {
			cfg.log = log
		}
	}
}

// resolveGate runs audience gating for one scope resolution. The returned
// slice follows Registry.Resolve semantics; gatedOut is true when gating
// applied and nothing resolved.
func (cfg handlerConfig) resolveGate(ctx context.Context, visitor VisitorContext, audiences []string, override string) (resolved []string, gatedOut bool) {
	resolved = cfg.registry.Resolve(ctx, visitor, audiences, override)
	return resolved, resolved != nil && len(resolved) == 0
}
