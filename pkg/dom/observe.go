package dom

import (
	"sync"

	"golang.org/x/net/html"
)

// Mutation is one batch of nodes inserted into the document.
type Mutation struct {
	Added []*html.Node
}

// Subscription receives mutation batches from a Document until stopped.
type Subscription struct {
	ch   chan Mutation
	once sync.Once
	doc  *Document
}

// Observe registers a new mutation subscription on the document. Batches are
// buffered; an observer that stops draining may miss batches, so consumers
// that track pending work must re-scan on every batch rather than rely on
// the batch payload alone.
func (d *Document) Observe() *Subscription {
	s := &Subscription{
		ch:  make(chan Mutation, 64),
		doc: d,
	}
	d.mu.Lock()
	d.subs = append(d.subs, s)
	d.mu.Unlock()
	return s
}

// Mutations returns the batch channel. It is closed when the subscription
// stops.
func (s *Subscription) Mutations() <-chan Mutation {
	return s.ch
}

// Stop ends the subscription and closes its channel. Safe to call more than
// once.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.doc.mu.Lock()
		for i, sub := range s.doc.subs {
			if sub == s {
				s.doc.subs = append(s.doc.subs[:i], s.doc.subs[i+1:]...)
				break
			}
		}
		close(s.ch)
		s.doc.mu.Unlock()
	})
}

// AppendChild attaches child under parent and notifies observers. child is
// detached from any previous parent first. The mutation and the fan-out
// happen under one lock acquisition, so observers see batches in tree order.
func (d *Document) AppendChild(parent, child *html.Node) {
	if parent == nil || child == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	Detach(child)
	parent.AppendChild(child)
	d.notifyLocked(Mutation{Added: []*html.Node{child}})
}

// AppendHTML parses markup as a fragment, attaches the resulting nodes under
// parent and notifies observers with one batch. Parsing happens outside the
// lock; the resulting nodes are private until attached.
func (d *Document) AppendHTML(parent *html.Node, markup string) ([]*html.Node, error) {
	nodes, err := ParseFragment(markup)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.notifyLocked(Mutation{Added: nodes})
	return nodes, nil
}

// notifyLocked fans the batch out; d.mu must be held, so sends can never
// race a Stop closing the channel. Sends are non-blocking; see Observe.
func (d *Document) notifyLocked(m Mutation) {
	if len(m.Added) == 0 {
		return
	}
	for _, s := range d.subs {
		select {
		case s.ch <- m:
		default:
		}
	}
}
