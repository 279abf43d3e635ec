// Package dom wraps an x/net/html tree as the detached document model the
// experience engine resolves against. Fetched markup parsed here is inert:
// scripts are plain nodes and never execute.
package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document owns one parsed HTML tree plus its mutation subscriptions. The
// lock guards the tree and the subscription list: concurrent readers and
// writers (a fragment watcher sweeping while the embedder appends nodes)
// must go through the Document methods. The package helpers work on detached
// subtrees and stay silent toward observers.
type Document struct {
	mu   sync.Mutex
	root *html.Node
	subs []*Subscription
}

// Parse reads a full HTML document from r.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString parses a full HTML document from a string.
func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.root
}

// Render serializes the document to w.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// HTML serializes the document to a string.
func (d *Document) HTML() (string, error) {
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Query returns the first node in the document matching the CSS selector.
func (d *Document) Query(selector string) (*html.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Query(d.root, selector)
}

// QueryAll returns every node in the document matching the CSS selector.
func (d *Document) QueryAll(selector string) ([]*html.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return QueryAll(d.root, selector)
}

// Main returns the document's main element, falling back to body.
func (d *Document) Main() *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	if main, _ := Query(d.root, "main"); main != nil {
		return main
	}
	body, _ := Query(d.root, "body")
	return body
}

// ReplaceInner swaps el's children for nodes under the document lock, so a
// substitution cannot race concurrent queries or appends on the same tree.
func (d *Document) ReplaceInner(el *html.Node, nodes ...*html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ReplaceInner(el, nodes...)
}

// Query returns the first node under scope matching the CSS selector.
func Query(scope *html.Node, selector string) (*html.Node, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("dom: selector %q: %w", selector, err)
	}
	return cascadia.Query(scope, sel), nil
}

// QueryAll returns every node under scope matching the CSS selector.
func QueryAll(scope *html.Node, selector string) ([]*html.Node, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("dom: selector %q: %w", selector, err)
	}
	return cascadia.QueryAll(scope, sel), nil
}

// Children returns a snapshot of n's direct children.
func Children(n *html.Node) []*html.Node {
	if n == nil {
		return nil
	}
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// FirstElementChild returns n's first child of element type.
func FirstElementChild(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// IsElement reports whether n is an element with the given tag.
func IsElement(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == tag
}

// Detach removes n from its parent, if any.
func Detach(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// ReplaceInner swaps el's children for nodes, preserving el itself and
// therefore any classes or attributes already on it.
func ReplaceInner(el *html.Node, nodes ...*html.Node) {
	if el == nil {
		return
	}
	for _, child := range Children(el) {
		el.RemoveChild(child)
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		Detach(n)
		el.AppendChild(n)
	}
}

// ParseFragment parses markup as body content, returning the top-level
// nodes.
func ParseFragment(markup string) ([]*html.Node, error) {
	context := &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}
