package dom

import (
	"strings"
	"testing"
)

const pageMarkup = `<html><body><main>
<div class="section"><h1>Hero</h1></div>
<div class="section"><p>Copy</p></div>
</main></body></html>`

func parse(t *testing.T, markup string) *Document {
	t.Helper()
	doc, err := ParseString(markup)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return doc
}

func TestQueryAndQueryAll(t *testing.T) {
	doc := parse(t, pageMarkup)

	first, err := doc.Query(".section")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if first == nil {
		t.Fatalf("expected a section match")
	}

	all, err := doc.QueryAll(".section")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two sections, got %d", len(all))
	}
	if all[0] != first {
		t.Fatalf("expected Query to return the first QueryAll match")
	}

	if _, err := doc.Query("..bad["); err == nil {
		t.Fatalf("expected invalid selector to error")
	}
}

func TestMainFallsBackToBody(t *testing.T) {
	withMain := parse(t, pageMarkup)
	if main := withMain.Main(); !IsElement(main, "main") {
		t.Fatalf("expected main element, got %v", main)
	}

	withoutMain := parse(t, `<html><body><p>plain</p></body></html>`)
	if body := withoutMain.Main(); !IsElement(body, "body") {
		t.Fatalf("expected body fallback, got %v", body)
	}
}

func TestReplaceInnerKeepsElement(t *testing.T) {
	doc := parse(t, pageMarkup)
	section, _ := doc.Query(".section")

	replacement, err := ParseFragment(`<p>new</p><span>extra</span>`)
	if err != nil {
		t.Fatalf("unexpected fragment error: %v", err)
	}
	ReplaceInner(section, replacement...)

	markup, _ := doc.HTML()
	if !strings.Contains(markup, `<div class="section"><p>new</p><span>extra</span></div>`) {
		t.Fatalf("expected inner replacement preserving the element, got %s", markup)
	}
	if strings.Contains(markup, "Hero") {
		t.Fatalf("expected old children removed, got %s", markup)
	}
}

func TestChildrenAndFirstElementChild(t *testing.T) {
	doc := parse(t, `<html><body><main> text <p>one</p><p>two</p></main></body></html>`)
	main := doc.Main()

	children := Children(main)
	if len(children) != 3 {
		t.Fatalf("expected text plus two elements, got %d children", len(children))
	}
	first := FirstElementChild(main)
	if first == nil || first.Data != "p" {
		t.Fatalf("expected first element child <p>, got %v", first)
	}

	if Children(nil) != nil || FirstElementChild(nil) != nil {
		t.Fatalf("expected nil-safe helpers")
	}
}

func TestObserveDeliversAppendBatches(t *testing.T) {
	doc := parse(t, pageMarkup)
	sub := doc.Observe()
	defer sub.Stop()

	added, err := doc.AppendHTML(doc.Main(), `<div class="fragment"><p>late</p></div>`)
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if len(added) != 1 {
		t.Fatalf("expected one appended node, got %d", len(added))
	}

	mutation, ok := <-sub.Mutations()
	if !ok {
		t.Fatalf("expected an open mutation channel")
	}
	if len(mutation.Added) != 1 || mutation.Added[0] != added[0] {
		t.Fatalf("expected batch carrying the appended node, got %+v", mutation)
	}

	if fragment, _ := doc.Query(".fragment"); fragment == nil {
		t.Fatalf("expected appended node to be queryable")
	}
}

func TestConcurrentQueriesAndAppends(t *testing.T) {
	doc := parse(t, pageMarkup)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if _, err := doc.AppendHTML(doc.Main(), `<div class="late"><p>late</p></div>`); err != nil {
				t.Errorf("unexpected append error: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, err := doc.QueryAll(".section"); err != nil {
			t.Fatalf("unexpected query error: %v", err)
		}
		section, err := doc.Query(".section")
		if err != nil || section == nil {
			t.Fatalf("expected a section match, got %v / %v", section, err)
		}
		replacement, err := ParseFragment(`<p>swapped</p>`)
		if err != nil {
			t.Fatalf("unexpected fragment error: %v", err)
		}
		doc.ReplaceInner(section, replacement...)
	}
	<-done

	late, err := doc.QueryAll(".late")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(late) != 200 {
		t.Fatalf("expected 200 appended nodes, got %d", len(late))
	}
}

func TestSubscriptionStopClosesChannel(t *testing.T) {
	doc := parse(t, pageMarkup)
	sub := doc.Observe()

	sub.Stop()
	sub.Stop()

	if _, ok := <-sub.Mutations(); ok {
		t.Fatalf("expected closed channel after Stop")
	}

	// Mutations after Stop must not panic on the closed channel.
	nodes, err := ParseFragment(`<p>after stop</p>`)
	if err != nil {
		t.Fatalf("unexpected fragment error: %v", err)
	}
	doc.AppendChild(doc.Main(), nodes[0])
}
