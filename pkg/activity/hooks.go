// Package activity is the engine's outward notification boundary: one event
// per resolved or applied experience, fanned out to registered hooks. The
// tracking and preview layers consume these events; nothing here transports
// analytics itself.
package activity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Event describes one experience resolution outcome. IDs are stringly-typed
// to avoid coupling call sites to specific UUID types.
type Event struct {
	// Verb is "experience.applied" when content was substituted,
	// "experience.resolved" otherwise.
	Verb string
	// Scope is the scope type: experiment, campaign or audience.
	Scope string
	// ScopeID identifies the experiment/campaign/audience resolved.
	ScopeID string
	// Selection is the variant, campaign or audience chosen.
	Selection string
	// Selector locates the target element, when known.
	Selector string
	// URL is the substituted content path; empty when nothing was served.
	URL string
	// Page is the path the resolution happened on.
	Page       string
	VisitorID  string
	UserID     string
	TenantID   string
	Channel    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// VerbApplied and VerbResolved are the two event verbs the engine emits.
const (
	VerbApplied  = "experience.applied"
	VerbResolved = "experience.resolved"
)

// Hook receives normalized experience events.
type Hook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy Hook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []Hook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify forwards the event to all hooks, returning a joined error if any
// fail. It normalizes the event and short-circuits when required fields are
// missing.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}

	normalized := NormalizeEvent(event)
	if normalized.Verb == "" || normalized.Scope == "" || normalized.ScopeID == "" {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// NormalizeEvent trims whitespace, clones metadata, and ensures a timestamp
// is present.
func NormalizeEvent(event Event) Event {
	normalized := event
	normalized.Verb = strings.TrimSpace(event.Verb)
	normalized.Scope = strings.TrimSpace(event.Scope)
	normalized.ScopeID = strings.TrimSpace(event.ScopeID)
	normalized.Selection = strings.TrimSpace(event.Selection)
	normalized.Selector = strings.TrimSpace(event.Selector)
	normalized.URL = strings.TrimSpace(event.URL)
	normalized.Page = strings.TrimSpace(event.Page)
	normalized.VisitorID = strings.TrimSpace(event.VisitorID)
	normalized.UserID = strings.TrimSpace(event.UserID)
	normalized.TenantID = strings.TrimSpace(event.TenantID)
	normalized.Channel = strings.TrimSpace(event.Channel)
	normalized.Metadata = cloneMap(event.Metadata)
	if normalized.OccurredAt.IsZero() {
		normalized.OccurredAt = time.Now()
	}
	return normalized
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
