package activity

import (
	"strings"
	"time"
)

// ExperienceEventInput describes the common fields for experience lifecycle
// events.
type ExperienceEventInput struct {
	Scope      string
	ScopeID    string
	Selection  string
	Selector   string
	URL        string
	Page       string
	VisitorID  string
	UserID     string
	TenantID   string
	Channel    string
	Metadata   map[string]any
	Audiences  []string
	OccurredAt time.Time
}

// BuildExperienceResolvedEvent constructs a normalized event for a scope that
// resolved without serving replacement content.
func BuildExperienceResolvedEvent(input ExperienceEventInput) Event {
	return buildExperienceEvent(VerbResolved, input)
}

// BuildExperienceAppliedEvent constructs a normalized event for a scope whose
// selection was substituted into the page.
func BuildExperienceAppliedEvent(input ExperienceEventInput) Event {
	return buildExperienceEvent(VerbApplied, input)
}

func buildExperienceEvent(verb string, input ExperienceEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if len(input.Audiences) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["audiences"] = append([]string{}, input.Audiences...)
	}

	return Event{
		Verb:       verb,
		Scope:      strings.TrimSpace(input.Scope),
		ScopeID:    strings.TrimSpace(input.ScopeID),
		Selection:  strings.TrimSpace(input.Selection),
		Selector:   strings.TrimSpace(input.Selector),
		URL:        strings.TrimSpace(input.URL),
		Page:       strings.TrimSpace(input.Page),
		VisitorID:  strings.TrimSpace(input.VisitorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
