package xp

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ScopeReader extracts the flat key/value metadata for a named scope. Page
// metadata scraping lives outside this engine; implementations typically
// read meta tags, block tables or query parameters.
type ScopeReader interface {
	// ScopeMap returns the page-level metadata for scope.
	ScopeMap(scope string) *ScopeMap
	// SectionScopeMap returns the metadata declared on one decorated
	// section container, isolated from every other section.
	SectionScopeMap(section *html.Node, scope string) *ScopeMap
}

// StaticReader serves pre-extracted scope maps. It backs tests and examples
// and suits callers that scrape metadata up front.
type StaticReader struct {
	// Page maps scope name to page-level metadata.
	Page map[string]*ScopeMap
	// Sections maps a section element to its per-scope metadata.
	Sections map[*html.Node]map[string]*ScopeMap
}

// ScopeMap implements ScopeReader.
func (r *StaticReader) ScopeMap(scope string) *ScopeMap {
	if r == nil {
		return nil
	}
	return r.Page[scope]
}

// SectionScopeMap implements ScopeReader.
func (r *StaticReader) SectionScopeMap(section *html.Node, scope string) *ScopeMap {
	if r == nil || r.Sections == nil {
		return nil
	}
	return r.Sections[section][scope]
}

// Overrides carries externally supplied forced selections for one scope.
type Overrides struct {
	// Value is the first bare namespace parameter (forced scope id,
	// "id/variant" pair, or selection token).
	Value string
	// Values collects repeated bare parameters in order.
	Values []string
	// Params holds "<ns>-<key>" sub-parameters, repeats collected in order.
	Params map[string][]string
	// Audience is the forced audience, sourced from the audience namespace.
	Audience string
}

// ParseOverrides builds the override context for namespace ns from query
// parameters. The bare "<ns>" parameter is the forced value; "<ns>-<key>"
// parameters become sub-entries.
func ParseOverrides(query url.Values, ns string) Overrides {
	ov := Overrides{Params: map[string][]string{}}
	prefix := ns + "-"
	for key, values := range query {
		switch {
		case key == ns:
			ov.Values = append(ov.Values, values...)
		case strings.HasPrefix(key, prefix):
			sub := strings.TrimPrefix(key, prefix)
			if sub == "" {
				continue
			}
			ov.Params[sub] = append(ov.Params[sub], values...)
		}
	}
	if len(ov.Values) > 0 {
		ov.Value = ov.Values[0]
	}
	return ov
}

// forces reports whether the override targets the given scope id, either
// bare ("id") or with a variant ("id/variant").
func (o Overrides) forces(id string) bool {
	if o.Value == "" || id == "" {
		return false
	}
	return o.Value == id || strings.HasPrefix(o.Value, id+"/")
}

// ToClassToken normalizes raw into a class-safe token: lower-cased, with
// every run of non-alphanumerics collapsed to a single dash.
func ToClassToken(raw string) string {
	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
