package xp

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// VisitorContext carries the per-page-view inputs predicates and resolvers
// evaluate against.
type VisitorContext struct {
	// Page is the URL of the page being resolved.
	Page *url.URL
	// Params holds the page's query parameters.
	Params url.Values
	// Attributes carries caller-supplied visitor traits (device, locale,
	// consent state, ...). Flattened into predicate environments.
	Attributes map[string]any
	UserAgent  string
	// Now pins evaluation time; nil defaults to time.Now at evaluation.
	Now *time.Time
}

// Path returns the page path, or "" when no page URL is set.
func (v VisitorContext) Path() string {
	if v.Page == nil {
		return ""
	}
	return v.Page.Path
}

func (v VisitorContext) withDefaultNow() VisitorContext {
	if v.Now != nil {
		return v
	}
	now := time.Now()
	v.Now = &now
	return v
}

func (v VisitorContext) timestamp() time.Time {
	v = v.withDefaultNow()
	return *v.Now
}

func (v VisitorContext) withDefaultMaps() VisitorContext {
	if v.Params == nil {
		v.Params = url.Values{}
	}
	if v.Attributes == nil {
		v.Attributes = map[string]any{}
	}
	return v
}

// pageBinding exposes the page URL as a plain map for expression
// environments.
func (v VisitorContext) pageBinding() map[string]any {
	binding := map[string]any{
		"path":  "",
		"host":  "",
		"url":   "",
		"query": "",
	}
	if v.Page != nil {
		binding["path"] = v.Page.Path
		binding["host"] = v.Page.Host
		binding["url"] = v.Page.String()
		binding["query"] = v.Page.RawQuery
	}
	return binding
}

// paramsBinding flattens query parameters to their first value, the shape
// predicates almost always want.
func (v VisitorContext) paramsBinding() map[string]any {
	binding := make(map[string]any, len(v.Params))
	for key, values := range v.Params {
		if len(values) > 0 {
			binding[key] = values[0]
		}
	}
	return binding
}

func (v VisitorContext) scopeLabel() string {
	if path := v.Path(); path != "" {
		return path
	}
	return "unknown"
}

// Instant is a point in time parsed from scope metadata. Date-only values
// are midnight UTC.
type Instant struct {
	time.Time
}

var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseInstant parses raw using the metadata date layouts.
func ParseInstant(raw string) (*Instant, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range instantLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &Instant{Time: ts.UTC()}, nil
		}
	}
	return nil, fmt.Errorf("xp: unparseable instant %q", raw)
}

// inWindow reports start <= now < end, with both ends optional.
func inWindow(now time.Time, start, end *Instant) bool {
	if start != nil && now.Before(start.Time) {
		return false
	}
	if end != nil && !now.Before(end.Time) {
		return false
	}
	return true
}
