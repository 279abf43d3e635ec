package xp

import (
	"context"
	"sync"

	"github.com/adobe/aem-experimentation/pkg/dom"
	"github.com/adobe/aem-experimentation/pkg/manifest"
	"go.uber.org/zap"
)

// FragmentWatcher applies manifest entries to content that is not in the
// document yet. Each entry is pending until its selector matches, then it is
// applied exactly once; the watcher re-checks pending entries whenever the
// document mutates and stops itself when none remain.
type FragmentWatcher struct {
	engine    *Engine
	page      *Page
	handler   Handler
	entries   []*manifest.Entry
	ov        Overrides
	result    *Result
	onApplied AppliedFunc

	sub      *dom.Subscription
	done     chan struct{}
	stopOnce sync.Once
}

func newFragmentWatcher(engine *Engine, page *Page, handler Handler, entries []*manifest.Entry, ov Overrides, result *Result, onApplied AppliedFunc) *FragmentWatcher {
	return &FragmentWatcher{
		engine:    engine,
		page:      page,
		handler:   handler,
		entries:   entries,
		ov:        ov,
		result:    result,
		onApplied: onApplied,
		done:      make(chan struct{}),
	}
}

// Start subscribes to document mutations, runs one initial sweep for
// fragments already present, then keeps sweeping on every mutation batch
// until all entries are applied or ctx is cancelled.
func (w *FragmentWatcher) Start(ctx context.Context) {
	w.sub = w.page.Doc.Observe()
	w.Step(ctx)
	if w.allApplied() {
		w.Stop()
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				w.Stop()
				return
			case _, ok := <-w.sub.Mutations():
				if !ok {
					return
				}
				w.Step(ctx)
				if w.allApplied() {
					w.Stop()
					return
				}
			}
		}
	}()
}

// Step sweeps the pending entries once, in declaration order. An entry whose
// selector matches is marked applied before any substitution happens, so
// overlapping sweeps cannot double-apply it.
func (w *FragmentWatcher) Step(ctx context.Context) {
	visitor := w.page.Visitor.withDefaultMaps()
	for _, entry := range w.entries {
		if entry.Applied() {
			continue
		}
		el, err := w.page.Doc.Query(entry.Selector)
		if err != nil {
			w.engine.log.Warn("bad fragment selector",
				zap.String("selector", entry.Selector), zap.Error(err))
			entry.MarkApplied()
			continue
		}
		if el == nil {
			continue
		}

		meta := scopeMapFromEntry(entry, w.handler.Scope())
		cfg, err := w.handler.Resolve(ctx, meta, w.ov)
		if err != nil {
			w.engine.log.Warn("fragment resolution failed",
				zap.String("selector", entry.Selector), zap.Error(err))
			continue
		}
		if cfg == nil {
			// Resolution is deterministic per page view; a gated or
			// unconfigured entry stays that way.
			entry.MarkApplied()
			continue
		}
		if !entry.MarkApplied() {
			continue
		}

		w.engine.applyResolution(ctx, visitor, w.handler, cfg, w.page.Doc, el, entry.Selector, w.result, w.onApplied)
	}
}

// Stop ends the watch. Safe to call more than once.
func (w *FragmentWatcher) Stop() {
	w.stopOnce.Do(func() {
		if w.sub != nil {
			w.sub.Stop()
		}
		close(w.done)
	})
}

// Done is closed when the watcher has stopped, either because every entry
// applied or because it was cancelled.
func (w *FragmentWatcher) Done() <-chan struct{} {
	return w.done
}

// Pending lists the entries still waiting for their fragment.
func (w *FragmentWatcher) Pending() []*manifest.Entry {
	var pending []*manifest.Entry
	for _, entry := range w.entries {
		if !entry.Applied() {
			pending = append(pending, entry)
		}
	}
	return pending
}

func (w *FragmentWatcher) allApplied() bool {
	for _, entry := range w.entries {
		if !entry.Applied() {
			return false
		}
	}
	return true
}
