package xp

import (
	"context"
	"net/url"
	"testing"
)

func audienceMeta() *ScopeMap {
	return NewScopeMap().
		Set("mobile", "/audiences/mobile").
		Set("desktop", "/audiences/desktop")
}

func resolveAudience(t *testing.T, handler *AudienceHandler, meta *ScopeMap, ov Overrides) *AudienceConfig {
	t.Helper()
	cfg, err := handler.Resolve(context.Background(), meta, ov)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if cfg == nil {
		t.Fatalf("expected a config")
	}
	config, ok := cfg.(*AudienceConfig)
	if !ok {
		t.Fatalf("expected *AudienceConfig, got %T", cfg)
	}
	return config
}

func TestAudienceFirstSatisfiedWins(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("mobile", memberPredicate(true)); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if err := registry.Register("desktop", memberPredicate(true)); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	page, _ := url.Parse("https://example.test/home")
	handler := NewAudienceHandler(
		VisitorContext{Page: page, Params: page.Query()},
		WithAudienceRegistry(registry),
	)

	config := resolveAudience(t, handler, audienceMeta(), Overrides{})
	if config.SelectedAudience != "mobile" {
		t.Fatalf("expected first satisfied audience in declaration order, got %q", config.SelectedAudience)
	}
	if got := handler.TargetURL(config); got != "/audiences/mobile" {
		t.Fatalf("expected mobile content path, got %q", got)
	}
}

func TestAudienceOverrideSelection(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("mobile", memberPredicate(true)); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	page, _ := url.Parse("https://example.test/home")
	handler := NewAudienceHandler(
		VisitorContext{Page: page, Params: page.Query()},
		WithAudienceRegistry(registry),
	)

	config := resolveAudience(t, handler, audienceMeta(), Overrides{Value: "desktop"})
	if config.SelectedAudience != "desktop" {
		t.Fatalf("expected override to select desktop, got %q", config.SelectedAudience)
	}

	// Overrides naming no configured audience leave nothing selected.
	config = resolveAudience(t, handler, audienceMeta(), Overrides{Value: "tablet"})
	if config.SelectedAudience != "" {
		t.Fatalf("expected no selection for unknown override, got %q", config.SelectedAudience)
	}
	if got := handler.TargetURL(config); got != "" {
		t.Fatalf("expected no target URL without a selection, got %q", got)
	}
}

func TestAudienceNothingSatisfied(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("mobile", memberPredicate(false)); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	page, _ := url.Parse("https://example.test/home")
	handler := NewAudienceHandler(
		VisitorContext{Page: page, Params: page.Query()},
		WithAudienceRegistry(registry),
	)

	config := resolveAudience(t, handler, audienceMeta(), Overrides{})
	if config.SelectedAudience != "" {
		t.Fatalf("expected no selection when nothing resolves, got %q", config.SelectedAudience)
	}
}

func TestAudienceUnconfigured(t *testing.T) {
	page, _ := url.Parse("https://example.test/home")
	handler := NewAudienceHandler(VisitorContext{Page: page, Params: page.Query()})

	meta := NewScopeMap().Set("manifest", "/manifest.json")
	cfg, err := handler.Resolve(context.Background(), meta, Overrides{})
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config when only reserved keys are present, got %v / %v", cfg, err)
	}
}
