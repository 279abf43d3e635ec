package xp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/adobe/aem-experimentation/pkg/dom"
)

// defaultFetchTimeout bounds a substitution fetch so a stalled origin cannot
// hold a fragment open indefinitely.
const defaultFetchTimeout = 10 * time.Second

// SubstitutorOption configures a Substitutor.
type SubstitutorOption func(*Substitutor)

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(client *http.Client) SubstitutorOption {
	return func(s *Substitutor) {
		if client != nil {
			s.client = client
		}
	}
}

// WithBaseURL resolves relative target paths against base. Tests point this
// at an httptest server.
func WithBaseURL(base *url.URL) SubstitutorOption {
	return func(s *Substitutor) {
		s.base = base
	}
}

// WithSubstitutorLogger attaches a zap logger for soft failures.
func WithSubstitutorLogger(log *zap.Logger) SubstitutorOption {
	return func(s *Substitutor) {
		if log != nil {
			s.log = log
		}
	}
}

// Substitutor fetches a variant's markup and swaps it into a destination
// element. Every failure is soft: the original content stays in place and
// the caller sees "not substituted".
type Substitutor struct {
	client *http.Client
	base   *url.URL
	log    *zap.Logger
}

// NewSubstitutor constructs a Substitutor.
func NewSubstitutor(opts ...SubstitutorOption) *Substitutor {
	s := &Substitutor{
		client: &http.Client{Timeout: defaultFetchTimeout},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Apply fetches targetPath and replaces el's inner content with the relevant
// subtree, preserving el and its attributes. The swap goes through doc so it
// holds the document lock against concurrent queries and appends. It returns
// the served path, or "" when nothing was swapped: same-page target (resolved
// but not substituted), network or parse failure, or no locatable
// replacement. The fetched markup is parsed detached, so embedded scripts
// never execute.
func (s *Substitutor) Apply(ctx context.Context, currentPath, targetPath string, doc *dom.Document, el *html.Node, selector string) string {
	if doc == nil || el == nil || targetPath == "" {
		return ""
	}
	if samePath(currentPath, targetPath) {
		return ""
	}
	replacement, err := s.fetchReplacement(ctx, targetPath, el, selector)
	if err != nil {
		s.log.Warn("experience substitution failed",
			zap.String("target", targetPath),
			zap.String("selector", selector),
			zap.Error(err))
		return ""
	}
	doc.ReplaceInner(el, replacement...)
	return targetPath
}

func (s *Substitutor) fetchReplacement(ctx context.Context, targetPath string, el *html.Node, selector string) ([]*html.Node, error) {
	target := targetPath
	if s.base != nil {
		ref, err := url.Parse(targetPath)
		if err != nil {
			return nil, fmt.Errorf("parse target: %w", err)
		}
		target = s.base.ResolveReference(ref).String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	fetched, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return locateReplacement(fetched, el, selector)
}

// locateReplacement picks the subtree that becomes el's new inner content:
// the caller-supplied selector when it matches, else the fetched main's
// content when el is itself a main region, else the first top-level child of
// the fetched main.
func locateReplacement(fetched *html.Node, el *html.Node, selector string) ([]*html.Node, error) {
	if selector != "" {
		if match, err := dom.Query(fetched, selector); err == nil && match != nil {
			return []*html.Node{match}, nil
		}
	}

	main, _ := dom.Query(fetched, "main")
	if main == nil {
		main, _ = dom.Query(fetched, "body")
	}
	if main == nil {
		return nil, fmt.Errorf("no main region in fetched document")
	}
	if dom.IsElement(el, "main") {
		return dom.Children(main), nil
	}
	if first := dom.FirstElementChild(main); first != nil {
		return []*html.Node{first}, nil
	}
	return nil, fmt.Errorf("no replacement subtree in fetched document")
}

// samePath reports whether the target resolves to the page currently shown.
func samePath(currentPath, targetPath string) bool {
	parsed, err := url.Parse(targetPath)
	if err != nil {
		return false
	}
	return parsed.Path == currentPath
}
