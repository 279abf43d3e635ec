package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDecodeRow(t *testing.T) {
	decoder := NewDecoder()

	entry, err := decoder.Decode(Row{
		"Selector":   ".hero",
		"URL":        "/exp/v1, /exp/v2",
		"Experiment": "hero-test",
		"Split":      "30",
		"Page":       "/home",
		"Audience":   []any{"mobile", "desktop"},
		"Status":     "active",
	})
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if entry.Selector != ".hero" {
		t.Fatalf("expected selector .hero, got %q", entry.Selector)
	}
	if len(entry.URLs) != 2 || entry.URLs[0] != "/exp/v1" || entry.URLs[1] != "/exp/v2" {
		t.Fatalf("expected comma-split URLs, got %v", entry.URLs)
	}
	if entry.Name() != "hero-test" {
		t.Fatalf("expected experiment name, got %q", entry.Name())
	}
	if len(entry.Splits) != 1 || entry.Splits[0] != 30 {
		t.Fatalf("expected split [30], got %v", entry.Splits)
	}
	if len(entry.Audiences) != 2 {
		t.Fatalf("expected two audiences, got %v", entry.Audiences)
	}
	if entry.Status != "active" {
		t.Fatalf("expected status active, got %q", entry.Status)
	}
}

func TestDecodeExperimentIDOutranksDisplayName(t *testing.T) {
	decoder := NewDecoder()

	entry, err := decoder.Decode(Row{
		"Selector":   ".hero",
		"URL":        "/exp/v1",
		"Experiment": "hero-test",
		"Name":       "Hero Headline Test",
	})
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if entry.Name() != "hero-test" {
		t.Fatalf("expected the experiment id, got %q", entry.Name())
	}
}

func TestDecodeRejectsIncompleteRows(t *testing.T) {
	decoder := NewDecoder()

	if _, err := decoder.Decode(Row{"url": "/exp/v1"}); err == nil {
		t.Fatalf("expected missing selector to error")
	}
	if _, err := decoder.Decode(Row{"selector": ".hero"}); err == nil {
		t.Fatalf("expected missing url to error")
	}
}

func TestDecodeHooks(t *testing.T) {
	decoder := NewDecoder(
		WithPreHook(func(row Row) (Row, error) {
			row["status"] = "active"
			return row, nil
		}),
		WithPostHook(func(entry *Entry) error {
			entry.Names = append(entry.Names, "appended")
			return nil
		}),
	)

	entry, err := decoder.Decode(Row{"selector": ".hero", "url": "/exp/v1"})
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if entry.Status != "active" {
		t.Fatalf("expected pre-hook mutation, got %q", entry.Status)
	}
	if len(entry.Names) != 1 || entry.Names[0] != "appended" {
		t.Fatalf("expected post-hook mutation, got %v", entry.Names)
	}
}

func TestAggregateGroupsAndPluralizes(t *testing.T) {
	rows := []Row{
		{"experiment": "e1", "selector": ".hero", "url": "/exp/v1", "status": "active"},
		{"experiment": "e1", "selector": ".hero", "url": "/exp/v2", "status": "active"},
		{"experiment": "e2", "selector": ".footer", "url": "/exp/other"},
	}

	merged := Aggregate(rows, ExperimentKey)
	if len(merged) != 2 {
		t.Fatalf("expected two groups, got %d", len(merged))
	}

	first := merged[0]
	urls, ok := first["url"].([]any)
	if !ok || len(urls) != 2 || urls[0] != "/exp/v1" || urls[1] != "/exp/v2" {
		t.Fatalf("expected pluralized urls in row order, got %v", first["url"])
	}
	if first["status"] != "active" {
		t.Fatalf("expected agreeing value folded once, got %v", first["status"])
	}
	if merged[1]["experiment"] != "e2" {
		t.Fatalf("expected first-seen group order, got %v", merged[1])
	}
}

func TestAggregateConflictKeepsFirstSeen(t *testing.T) {
	rows := []Row{
		{"selector": ".hero", "url": "/exp/v1", "status": "active"},
		{"selector": ".hero", "url": "/exp/v2", "status": "paused"},
	}

	merged := Aggregate(rows, SelectorKey)
	if len(merged) != 1 {
		t.Fatalf("expected one group, got %d", len(merged))
	}
	if merged[0]["status"] != "active" {
		t.Fatalf("expected first-seen status to win, got %v", merged[0]["status"])
	}
}

func TestEntryLifecycle(t *testing.T) {
	entry := &Entry{Selector: ".hero", URLs: []string{"/exp/v1"}}
	if entry.Applied() {
		t.Fatalf("expected fresh entry to be pending")
	}
	if !entry.MarkApplied() {
		t.Fatalf("expected first MarkApplied to succeed")
	}
	if entry.MarkApplied() {
		t.Fatalf("expected second MarkApplied to report already applied")
	}
	if !entry.Applied() {
		t.Fatalf("expected terminal state to stick")
	}
}

func TestEntryAppliesTo(t *testing.T) {
	everywhere := &Entry{Selector: ".hero"}
	if !everywhere.AppliesTo("/any/page") {
		t.Fatalf("expected unscoped entry to apply everywhere")
	}

	scoped := &Entry{Selector: ".hero", Pages: []string{"/home", "/pricing"}}
	if !scoped.AppliesTo("/home") || scoped.AppliesTo("/blog") {
		t.Fatalf("unexpected page scoping behaviour")
	}
}

func manifestServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientFetchValidatesRows(t *testing.T) {
	server := manifestServer(t, `{"data":[
		{"Selector":".hero","URL":"/exp/v1"},
		{"Selector":".broken"},
		{"URL":"/no-selector"},
		{"SELECTOR":".footer","URLS":["/exp/v2"]}
	]}`)

	client := NewClient()
	rows, err := client.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected schema to drop invalid rows, got %d", len(rows))
	}
	if rows[0]["selector"] != ".hero" {
		t.Fatalf("expected lower-cased keys, got %v", rows[0])
	}
	urls, ok := rows[1]["urls"].([]any)
	if !ok || len(urls) != 1 || urls[0] != "/exp/v2" {
		t.Fatalf("expected case-insensitive ingestion, got %v", rows[1])
	}
}

func TestClientFetchErrors(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(bad.Close)

	client := NewClient()
	if _, err := client.Fetch(context.Background(), bad.URL); err == nil {
		t.Fatalf("expected status error")
	}

	garbled := manifestServer(t, `not json at all`)
	if _, err := client.Fetch(context.Background(), garbled.URL); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestClientEntriesAggregatesAndFilters(t *testing.T) {
	server := manifestServer(t, `{"data":[
		{"Experiment":"e1","Selector":".hero","URL":"/exp/v1","Page":"/home"},
		{"Experiment":"e1","Selector":".hero","URL":"/exp/v2","Page":"/home"},
		{"Experiment":"e2","Selector":".footer","URL":"/exp/other","Page":"/pricing"}
	]}`)

	client := NewClient()
	entries, err := client.Entries(context.Background(), server.URL, "/home", ExperimentKey)
	if err != nil {
		t.Fatalf("unexpected entries error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry in scope on /home, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Name() != "e1" || entry.Selector != ".hero" {
		t.Fatalf("unexpected entry identity: %+v", entry)
	}
	if len(entry.URLs) != 2 {
		t.Fatalf("expected aggregated URLs, got %v", entry.URLs)
	}
}
