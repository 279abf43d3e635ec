package xp

import (
	"context"
	"strconv"
	"sync"

	"github.com/adobe/aem-experimentation/internal/clone"
	"github.com/adobe/aem-experimentation/pkg/activity"
	"github.com/adobe/aem-experimentation/pkg/dom"
	"github.com/adobe/aem-experimentation/pkg/manifest"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// DefaultSectionSelector matches the section wrappers of a decorated page.
const DefaultSectionSelector = ".section"

// manifestKey is the scope-map key carrying the fragment manifest URL.
const manifestKey = "manifest"

// Page pairs a parsed document with the visitor it is being served to.
type Page struct {
	Doc     *dom.Document
	Visitor VisitorContext
}

// Option configures an Engine.
type Option func(*Engine)

// WithScopeReader wires the metadata source for page and section scopes.
func WithScopeReader(reader ScopeReader) Option {
	return func(e *Engine) {
		if reader != nil {
			e.reader = reader
		}
	}
}

// WithSubstitutor wires the content substitutor.
func WithSubstitutor(sub *Substitutor) Option {
	return func(e *Engine) {
		if sub != nil {
			e.substitutor = sub
		}
	}
}

// WithManifestClient enables fragment manifests.
func WithManifestClient(client *manifest.Client) Option {
	return func(e *Engine) {
		e.manifests = client
	}
}

// WithEmitter wires the activity emitter notified per resolution.
func WithEmitter(emitter *activity.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// WithSectionSelector overrides the selector locating section targets.
func WithSectionSelector(selector string) Option {
	return func(e *Engine) {
		if selector != "" {
			e.sectionSelector = selector
		}
	}
}

// WithLogger wires the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Engine drives one scope handler across a page: the page-level target
// first, then every section, then (when a manifest is declared) a fragment
// watcher for content that arrives later.
type Engine struct {
	reader          ScopeReader
	substitutor     *Substitutor
	manifests       *manifest.Client
	emitter         *activity.Emitter
	sectionSelector string
	log             *zap.Logger
}

// NewEngine builds an engine. Without options it resolves nothing visible:
// wire at least a ScopeReader and a Substitutor.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		reader:          &StaticReader{},
		substitutor:     NewSubstitutor(),
		sectionSelector: DefaultSectionSelector,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Result accumulates the resolution records of one Run. It is safe for
// concurrent use; the fragment watcher keeps appending after Run returns.
type Result struct {
	mu      sync.Mutex
	records []ResolutionRecord
	watcher *FragmentWatcher
}

func (r *Result) append(rec ResolutionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns the records accumulated so far, in application order.
func (r *Result) Records() []ResolutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ResolutionRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Snapshot returns the records with deep-copied configurations, so callers
// can hold them without observing later mutation. Element pointers are
// shared with the live document.
func (r *Result) Snapshot() []ResolutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ResolutionRecord, len(r.records))
	for i, rec := range r.records {
		rec.Config = clone.Value(rec.Config)
		out[i] = rec
	}
	return out
}

// Watcher returns the fragment watcher started for this run, or nil when
// the page declared no manifest.
func (r *Result) Watcher() *FragmentWatcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watcher
}

// Run resolves one scope across the page: the page-level target (<main>),
// then each section concurrently, then hands manifest entries (if any) to a
// fragment watcher. onApplied may be nil. Run never fails the page on a
// single target's error; those are logged and skipped.
func (e *Engine) Run(ctx context.Context, page *Page, handler Handler, onApplied AppliedFunc) (*Result, error) {
	if page == nil || page.Doc == nil || handler == nil {
		return &Result{}, nil
	}

	visitor := page.Visitor.withDefaultMaps()
	ov := e.overridesFor(visitor, handler.Scope())
	result := &Result{}

	pageMeta := e.reader.ScopeMap(string(handler.Scope()))
	e.resolveTarget(ctx, visitor, handler, pageMeta, page.Doc, page.Doc.Main(), "", ov, result, onApplied)

	sections, err := page.Doc.QueryAll(e.sectionSelector)
	if err != nil {
		e.log.Warn("bad section selector", zap.String("selector", e.sectionSelector), zap.Error(err))
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	type sectionOutcome struct {
		cfg ScopeConfig
	}
	outcomes := make([]sectionOutcome, len(sections))
	for i, section := range sections {
		meta := e.reader.SectionScopeMap(section, string(handler.Scope()))
		if meta == nil || meta.Len() == 0 {
			continue
		}
		grp.Go(func() error {
			cfg, err := handler.Resolve(grpCtx, meta, ov)
			if err != nil {
				e.log.Warn("section resolution failed",
					zap.String("scope", string(handler.Scope())), zap.Error(err))
				return nil
			}
			outcomes[i] = sectionOutcome{cfg: cfg}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return result, err
	}
	for i, outcome := range outcomes {
		if outcome.cfg == nil {
			continue
		}
		e.applyResolution(ctx, visitor, handler, outcome.cfg, page.Doc, sections[i], "", result, onApplied)
	}

	if entries := e.manifestEntries(ctx, visitor, pageMeta, handler.Scope()); len(entries) > 0 {
		watcher := newFragmentWatcher(e, page, handler, entries, ov, result, onApplied)
		result.mu.Lock()
		result.watcher = watcher
		result.mu.Unlock()
		watcher.Start(ctx)
	}

	return result, nil
}

// resolveTarget resolves meta for one element and applies the outcome.
func (e *Engine) resolveTarget(ctx context.Context, visitor VisitorContext, handler Handler, meta *ScopeMap, doc *dom.Document, el *html.Node, selector string, ov Overrides, result *Result, onApplied AppliedFunc) {
	if meta == nil || meta.Len() == 0 || el == nil {
		return
	}
	cfg, err := handler.Resolve(ctx, meta, ov)
	if err != nil {
		e.log.Warn("resolution failed",
			zap.String("scope", string(handler.Scope())), zap.Error(err))
		return
	}
	if cfg == nil {
		return
	}
	e.applyResolution(ctx, visitor, handler, cfg, doc, el, selector, result, onApplied)
}

// applyResolution substitutes content for a resolved config, records it,
// emits the activity event and invokes the callback.
func (e *Engine) applyResolution(ctx context.Context, visitor VisitorContext, handler Handler, cfg ScopeConfig, doc *dom.Document, el *html.Node, selector string, result *Result, onApplied AppliedFunc) {
	served := e.substitutor.Apply(ctx, visitor.Path(), handler.TargetURL(cfg), doc, el, selector)

	record := ResolutionRecord{
		ID:               uuid.New(),
		Scope:            handler.Scope(),
		Config:           cfg,
		Element:          el,
		ServedExperience: served,
	}
	result.append(record)
	e.emitResolution(ctx, visitor, record, selector)

	if onApplied != nil {
		onApplied(el, cfg, served)
	}
}

func (e *Engine) emitResolution(ctx context.Context, visitor VisitorContext, record ResolutionRecord, selector string) {
	if e.emitter == nil || !e.emitter.Enabled() {
		return
	}
	input := activity.ExperienceEventInput{
		Scope:     string(record.Scope),
		ScopeID:   scopeID(record.Config),
		Selection: record.Config.Selection(),
		Selector:  selector,
		URL:       record.ServedExperience,
		Page:      visitor.Path(),
		Audiences: record.Config.ResolvedAudiences(),
	}
	var event activity.Event
	if record.Served() {
		event = activity.BuildExperienceAppliedEvent(input)
	} else {
		event = activity.BuildExperienceResolvedEvent(input)
	}
	if err := e.emitter.Emit(ctx, event); err != nil {
		e.log.Warn("activity emit failed", zap.Error(err))
	}
}

// overridesFor builds the override context for a scope, stitching in the
// forced audience from the audience namespace.
func (e *Engine) overridesFor(visitor VisitorContext, scope ScopeType) Overrides {
	ov := ParseOverrides(visitor.Params, string(scope))
	audienceOv := ParseOverrides(visitor.Params, string(ScopeAudience))
	ov.Audience = audienceOv.Value
	return ov
}

// manifestEntries fetches fragment entries declared by the page scope.
// Experiment manifests group rows per experiment; other scopes group per
// selector.
func (e *Engine) manifestEntries(ctx context.Context, visitor VisitorContext, pageMeta *ScopeMap, scope ScopeType) []*manifest.Entry {
	if e.manifests == nil || pageMeta == nil {
		return nil
	}
	url := pageMeta.Get(manifestKey)
	if url == "" {
		return nil
	}
	key := manifest.SelectorKey
	if scope == ScopeExperiment {
		key = manifest.ExperimentKey
	}
	entries, err := e.manifests.Entries(ctx, url, visitor.Path(), key)
	if err != nil {
		e.log.Warn("manifest fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	return entries
}

func scopeID(cfg ScopeConfig) string {
	switch c := cfg.(type) {
	case *ExperimentConfig:
		return c.ID
	case *CampaignConfig:
		return c.SelectedCampaign
	case *AudienceConfig:
		return c.SelectedAudience
	default:
		return ""
	}
}

// scopeMapFromEntry projects a manifest entry into the same metadata shape
// the readers produce, so handlers resolve fragments and authored blocks
// identically.
func scopeMapFromEntry(entry *manifest.Entry, scope ScopeType) *ScopeMap {
	meta := NewScopeMap()
	if entry.Status != "" {
		meta.Set("status", entry.Status)
	}
	if entry.StartDate != "" {
		meta.Set("start-date", entry.StartDate)
	}
	if entry.EndDate != "" {
		meta.Set("end-date", entry.EndDate)
	}
	if len(entry.Audiences) > 0 {
		meta.Set("audience", entry.Audiences...)
	}

	switch scope {
	case ScopeExperiment:
		if name := entry.Name(); name != "" {
			meta.Set(ValueKey, name)
		}
		if len(entry.URLs) > 0 {
			meta.Set("variants", entry.URLs...)
		}
		if len(entry.Splits) > 0 {
			splits := make([]string, len(entry.Splits))
			for i, s := range entry.Splits {
				splits[i] = strconv.FormatFloat(s, 'f', 4, 64)
			}
			meta.Set("split", splits...)
		}
	default:
		// Campaigns and audiences pair each custom name with its URL.
		for i, name := range entry.Names {
			if i >= len(entry.URLs) {
				break
			}
			meta.Set(name, entry.URLs[i])
		}
	}
	return meta
}
