package xp

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// ScopeType names one of the three experience concerns an engine run can
// resolve. Each scope has its own metadata namespace and query-parameter
// namespace.
type ScopeType string

const (
	ScopeExperiment ScopeType = "experiment"
	ScopeCampaign   ScopeType = "campaign"
	ScopeAudience   ScopeType = "audience"
)

// ValueKey is the distinguished key carrying a scope's bare declaration.
const ValueKey = "value"

// ScopeMap is the flat key/value view of one scope's metadata for one target.
// Keys are class-safe tokens; insertion order is preserved so resolution
// order stays deterministic. The distinguished "value" key carries the
// scope's bare declaration (e.g. the experiment id).
type ScopeMap struct {
	keys   []string
	values map[string][]string
}

// NewScopeMap constructs an empty scope map.
func NewScopeMap() *ScopeMap {
	return &ScopeMap{values: map[string][]string{}}
}

// Set appends values under the class-safe form of key, preserving first-seen
// key order. Empty keys are dropped.
func (m *ScopeMap) Set(key string, values ...string) *ScopeMap {
	token := ToClassToken(key)
	if token == "" {
		return m
	}
	if m.values == nil {
		m.values = map[string][]string{}
	}
	if _, ok := m.values[token]; !ok {
		m.keys = append(m.keys, token)
	}
	m.values[token] = append(m.values[token], values...)
	return m
}

// Get returns the first value stored under key, or "".
func (m *ScopeMap) Get(key string) string {
	values := m.List(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// List returns every value stored under key, additionally splitting entries
// on commas. Values are trimmed; empties dropped.
func (m *ScopeMap) List(key string) []string {
	if m == nil || m.values == nil {
		return nil
	}
	var out []string
	for _, raw := range m.values[ToClassToken(key)] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ListAny returns the values of the first key that has any.
func (m *ScopeMap) ListAny(keys ...string) []string {
	for _, key := range keys {
		if values := m.List(key); len(values) > 0 {
			return values
		}
	}
	return nil
}

// Value returns the scope's bare declaration.
func (m *ScopeMap) Value() string {
	return m.Get(ValueKey)
}

// Keys returns the stored keys in insertion order.
func (m *ScopeMap) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Len reports the number of distinct keys.
func (m *ScopeMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// ScopeConfig is the resolved configuration of one scope for one target.
// Concrete types are ExperimentConfig, CampaignConfig and AudienceConfig.
type ScopeConfig interface {
	// Scope identifies the concrete configuration type.
	Scope() ScopeType
	// AudienceIDs returns the audiences declared in the scope metadata.
	AudienceIDs() []string
	// ResolvedAudiences returns the audiences satisfied for the current
	// visitor. A nil slice means audience gating was not configured; an
	// empty non-nil slice means gating applied and nothing resolved.
	ResolvedAudiences() []string
	// Selection returns the chosen variant, campaign or audience, or ""
	// when nothing was selected.
	Selection() string
}

// Variant is one named content alternative within an experiment.
type Variant struct {
	Label string
	// Pages lists the content paths serving this variant; the first entry
	// is the one substituted.
	Pages []string
	// PercentageSplit is the variant's allocation as a decimal string in
	// [0,1]. Empty means unspecified until InferSplits fills it.
	PercentageSplit string
}

// ExperimentConfig is the resolved state of an experiment scope.
type ExperimentConfig struct {
	ID        string
	Label     string
	Status    string
	StartDate *Instant
	EndDate   *Instant
	Audiences []string
	Resolved  []string
	// VariantNames keeps declaration order; the first entry is always
	// ControlVariant.
	VariantNames []string
	Variants     map[string]*Variant
	// Run reports whether the experiment is eligible to serve a challenger.
	Run             bool
	SelectedVariant string
}

func (c *ExperimentConfig) Scope() ScopeType            { return ScopeExperiment }
func (c *ExperimentConfig) AudienceIDs() []string       { return c.Audiences }
func (c *ExperimentConfig) ResolvedAudiences() []string { return c.Resolved }

// Selection returns the selected variant when the experiment runs, otherwise
// the control variant used for decoration side effects.
func (c *ExperimentConfig) Selection() string {
	if c.Run {
		return c.SelectedVariant
	}
	if len(c.VariantNames) > 0 {
		return c.VariantNames[0]
	}
	return ""
}

// CampaignConfig is the resolved state of a campaign scope.
type CampaignConfig struct {
	Audiences []string
	Resolved  []string
	// ConfiguredCampaigns maps campaign ids to target URLs.
	ConfiguredCampaigns map[string]string
	// CampaignIDs keeps the configured campaign keys in declaration order.
	CampaignIDs      []string
	SelectedCampaign string
}

func (c *CampaignConfig) Scope() ScopeType            { return ScopeCampaign }
func (c *CampaignConfig) AudienceIDs() []string       { return c.Audiences }
func (c *CampaignConfig) ResolvedAudiences() []string { return c.Resolved }
func (c *CampaignConfig) Selection() string           { return c.SelectedCampaign }

// AudienceConfig is the resolved state of an audience scope.
type AudienceConfig struct {
	Audiences []string
	Resolved  []string
	// ConfiguredAudiences maps audience ids to target URLs.
	ConfiguredAudiences map[string]string
	SelectedAudience    string
}

func (c *AudienceConfig) Scope() ScopeType            { return ScopeAudience }
func (c *AudienceConfig) AudienceIDs() []string       { return c.Audiences }
func (c *AudienceConfig) ResolvedAudiences() []string { return c.Resolved }
func (c *AudienceConfig) Selection() string           { return c.SelectedAudience }

// ResolutionRecord is produced once per (scope, target) pair.
type ResolutionRecord struct {
	ID     uuid.UUID
	Scope  ScopeType
	Config ScopeConfig
	// Element is the target the resolution applied to. Shared with the
	// document; treat as read-only.
	Element *html.Node
	// ServedExperience is the substituted content path, or "" when the
	// resolution did not swap content (control, same page, or fetch
	// failure).
	ServedExperience string
}

// Served reports whether a substitution actually occurred.
func (r ResolutionRecord) Served() bool {
	return r.ServedExperience != ""
}

// runEligibleStatuses are the status tokens allowing an experiment to serve
// challengers without an override.
var runEligibleStatuses = map[string]struct{}{
	"active": {},
	"on":     {},
	"true":   {},
}

func statusRunEligible(status string) bool {
	_, ok := runEligibleStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}
