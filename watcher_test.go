package xp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/adobe/aem-experimentation/pkg/manifest"
)

func fragmentServer(t *testing.T) (*httptest.Server, *url.URL) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.json":
			w.Write([]byte(`{"data":[
				{"Experiment":"frag-test","Selector":".fragment","Url":"/frag-a","Page":"/home"}
			]}`))
		case "/frag-a":
			w.Write([]byte(`<html><body><main><div class="fragment"><p>fragment experience A</p></div></main></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	base, _ := url.Parse(server.URL)
	return server, base
}

func awaitDone(t *testing.T, watcher *FragmentWatcher) {
	t.Helper()
	select {
	case <-watcher.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not finish in time")
	}
}

func TestFragmentWatcherAppliesLateFragment(t *testing.T) {
	server, base := fragmentServer(t)

	reader := &StaticReader{
		Page: map[string]*ScopeMap{
			"experiment": NewScopeMap().
				Set("manifest", server.URL+"/manifest.json"),
		},
	}
	engine := NewEngine(
		WithScopeReader(reader),
		WithSubstitutor(NewSubstitutor(WithBaseURL(base))),
		WithManifestClient(manifest.NewClient()),
	)

	page := enginePage(t, server.URL, `<html><body><main><div class="section"></div></main></body></html>`, "experiment=frag-test%2Fchallenger-1")
	log := &callbackLog{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := engine.Run(ctx, page, NewExperimentHandler(page.Visitor), log.fn())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	watcher := result.Watcher()
	if watcher == nil {
		t.Fatalf("expected a fragment watcher")
	}
	if pending := watcher.Pending(); len(pending) != 1 {
		t.Fatalf("expected one pending entry, got %d", len(pending))
	}

	// The fragment arrives after the initial pass.
	if _, err := page.Doc.AppendHTML(page.Doc.Main(), `<div class="fragment"><p>original fragment</p></div>`); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	awaitDone(t, watcher)

	records := result.Records()
	if len(records) != 1 {
		t.Fatalf("expected one fragment record, got %d", len(records))
	}
	if records[0].ServedExperience != "/frag-a" {
		t.Fatalf("expected served experience /frag-a, got %q", records[0].ServedExperience)
	}
	if log.len() != 1 {
		t.Fatalf("expected one callback, got %d", log.len())
	}

	markup, _ := page.Doc.HTML()
	if !strings.Contains(markup, "fragment experience A") {
		t.Fatalf("expected substituted fragment content, got %s", markup)
	}
}

func TestFragmentWatcherInitialSweep(t *testing.T) {
	server, base := fragmentServer(t)

	reader := &StaticReader{
		Page: map[string]*ScopeMap{
			"experiment": NewScopeMap().
				Set("manifest", server.URL+"/manifest.json"),
		},
	}
	engine := NewEngine(
		WithScopeReader(reader),
		WithSubstitutor(NewSubstitutor(WithBaseURL(base))),
		WithManifestClient(manifest.NewClient()),
	)

	// The fragment is already present, so the initial sweep applies it and
	// the watcher stops without any mutation.
	page := enginePage(t, server.URL, `<html><body><main><div class="fragment"><p>inline</p></div></main></body></html>`, "experiment=frag-test%2Fchallenger-1")

	result, err := engine.Run(context.Background(), page, NewExperimentHandler(page.Visitor), nil)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	watcher := result.Watcher()
	if watcher == nil {
		t.Fatalf("expected a fragment watcher")
	}
	awaitDone(t, watcher)

	if pending := watcher.Pending(); len(pending) != 0 {
		t.Fatalf("expected no pending entries, got %d", len(pending))
	}
	records := result.Records()
	if len(records) != 1 || records[0].ServedExperience != "/frag-a" {
		t.Fatalf("expected one applied fragment record, got %+v", records)
	}
}

func TestFragmentWatcherSweepsDuringConcurrentAppends(t *testing.T) {
	server, base := fragmentServer(t)

	reader := &StaticReader{
		Page: map[string]*ScopeMap{
			"experiment": NewScopeMap().
				Set("manifest", server.URL+"/manifest.json"),
		},
	}
	engine := NewEngine(
		WithScopeReader(reader),
		WithSubstitutor(NewSubstitutor(WithBaseURL(base))),
		WithManifestClient(manifest.NewClient()),
	)

	page := enginePage(t, server.URL, `<html><body><main><div class="section"></div></main></body></html>`, "experiment=frag-test%2Fchallenger-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := engine.Run(ctx, page, NewExperimentHandler(page.Visitor), nil)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	watcher := result.Watcher()
	if watcher == nil {
		t.Fatalf("expected a fragment watcher")
	}

	// Other page logic keeps injecting unrelated nodes while the watcher
	// sweeps; every insertion triggers a re-scan against the live tree.
	for i := 0; i < 200; i++ {
		if _, err := page.Doc.AppendHTML(page.Doc.Main(), `<div class="unrelated"><p>noise</p></div>`); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}
	if _, err := page.Doc.AppendHTML(page.Doc.Main(), `<div class="fragment"><p>original fragment</p></div>`); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	awaitDone(t, watcher)

	records := result.Records()
	if len(records) != 1 || records[0].ServedExperience != "/frag-a" {
		t.Fatalf("expected one applied fragment record, got %+v", records)
	}
	markup, _ := page.Doc.HTML()
	if !strings.Contains(markup, "fragment experience A") {
		t.Fatalf("expected substituted fragment content, got %s", markup)
	}
}

func TestFragmentWatcherStepIdempotent(t *testing.T) {
	_, base := fragmentServer(t)

	engine := NewEngine(WithSubstitutor(NewSubstitutor(WithBaseURL(base))))
	page := enginePage(t, base.String(), `<html><body><main><div class="fragment"><p>inline</p></div></main></body></html>`, "experiment=frag-test%2Fchallenger-1")

	entries := []*manifest.Entry{{
		Selector: ".fragment",
		URLs:     []string{"/frag-a"},
		Names:    []string{"frag-test"},
	}}
	log := &callbackLog{}
	result := &Result{}
	ov := ParseOverrides(page.Visitor.Params, "experiment")

	watcher := newFragmentWatcher(engine, page, NewExperimentHandler(page.Visitor), entries, ov, result, log.fn())

	watcher.Step(context.Background())
	watcher.Step(context.Background())

	if log.len() != 1 {
		t.Fatalf("expected exactly one application across repeated sweeps, got %d", log.len())
	}
	if !entries[0].Applied() {
		t.Fatalf("expected entry to be marked applied")
	}
	if len(result.Records()) != 1 {
		t.Fatalf("expected one record, got %d", len(result.Records()))
	}
}

func TestFragmentWatcherGatedEntryTerminates(t *testing.T) {
	_, base := fragmentServer(t)

	engine := NewEngine(WithSubstitutor(NewSubstitutor(WithBaseURL(base))))
	page := enginePage(t, base.String(), `<html><body><main><div class="fragment"></div></main></body></html>`, "")

	// No names and no experiment id: the handler resolves nothing.
	entries := []*manifest.Entry{{
		Selector: ".fragment",
		URLs:     []string{"/frag-a"},
	}}
	result := &Result{}

	watcher := newFragmentWatcher(engine, page, NewExperimentHandler(page.Visitor), entries, Overrides{}, result, nil)
	watcher.Step(context.Background())

	if !entries[0].Applied() {
		t.Fatalf("expected unresolvable entry to reach its terminal state")
	}
	if len(result.Records()) != 0 {
		t.Fatalf("expected no records for unresolvable entry, got %d", len(result.Records()))
	}
}
