package xp

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Predicate decides whether the current visitor belongs to one audience.
// Predicates may block (remote lookups, consent checks) and must honor ctx.
type Predicate interface {
	Test(ctx context.Context, visitor VisitorContext) (bool, error)
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(ctx context.Context, visitor VisitorContext) (bool, error)

// Test implements Predicate.
func (f PredicateFunc) Test(ctx context.Context, visitor VisitorContext) (bool, error) {
	if f == nil {
		return false, nil
	}
	return f(ctx, visitor)
}

// RulePredicate wraps a compiled expression; membership is the truthiness of
// the evaluation result.
func RulePredicate(rule CompiledRule) Predicate {
	return PredicateFunc(func(_ context.Context, visitor VisitorContext) (bool, error) {
		if rule == nil {
			return false, nil
		}
		value, err := rule.Evaluate(visitor)
		if err != nil {
			return false, err
		}
		return truthy(value), nil
	})
}

// ExprPredicate compiles expression with evaluator and wraps it as a
// Predicate.
func ExprPredicate(evaluator Evaluator, expression string) (Predicate, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("xp: evaluator must not be nil")
	}
	rule, err := evaluator.Compile(expression)
	if err != nil {
		return nil, err
	}
	return RulePredicate(rule), nil
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger attaches a zap logger for predicate failures.
func WithRegistryLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithEvalLogger attaches an evaluation observer.
func WithEvalLogger(logger EvalLogger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.evalLog = logger
		}
	}
}

// Registry stores audience membership predicates keyed by audience id.
type Registry struct {
	mu      sync.RWMutex
	preds   map[string]Predicate
	log     *zap.Logger
	evalLog EvalLogger
}

// NewRegistry constructs an empty audience registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		preds:   map[string]Predicate{},
		log:     zap.NewNop(),
		evalLog: noopEvalLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register stores predicate under the class-safe form of id.
func (r *Registry) Register(id string, predicate Predicate) error {
	token := ToClassToken(id)
	if token == "" {
		return fmt.Errorf("xp: audience id must not be empty")
	}
	if predicate == nil {
		return fmt.Errorf("xp: audience %q predicate is nil", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.preds == nil {
		r.preds = map[string]Predicate{}
	}
	if _, exists := r.preds[token]; exists {
		return fmt.Errorf("xp: audience %q already registered", id)
	}
	r.preds[token] = predicate
	return nil
}

// Lookup returns the predicate registered for id.
func (r *Registry) Lookup(id string) (Predicate, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	predicate, ok := r.preds[ToClassToken(id)]
	r.mu.RUnlock()
	return predicate, ok
}

// Len reports the number of registered audiences.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.preds)
}

// Resolve determines which of ids are satisfied for the visitor.
//
// It returns nil when ids is empty or the registry has no entries (audience
// gating not applicable). With an override: [override] when the override is
// a member of ids, otherwise an empty non-nil slice (gating applies, nothing
// resolved). The override may arrive in its authored form; membership is
// checked against its class-safe token, matching how declared ids are
// stored. Otherwise predicates run concurrently and the satisfied subset
// is returned preserving the order of ids; unregistered ids never resolve,
// and a failing predicate counts as unsatisfied.
func (r *Registry) Resolve(ctx context.Context, visitor VisitorContext, ids []string, override string) []string {
	if len(ids) == 0 || r.Len() == 0 {
		return nil
	}
	if override = ToClassToken(override); override != "" {
		if slices.Contains(ids, override) {
			return []string{override}
		}
		return []string{}
	}

	results := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		predicate, ok := r.Lookup(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			member, err := predicate.Test(gctx, visitor)
			if err != nil {
				r.log.Warn("audience predicate failed",
					zap.String("audience", id),
					zap.Error(err))
				member = false
			}
			r.evalLog.LogEvaluation(EvalLogEvent{
				Audience: id,
				Page:     visitor.Path(),
				Duration: time.Since(start),
				Result:   member,
				Err:      err,
			})
			results[i] = member
			return nil
		})
	}
	// Predicates never fail the group; Wait only joins.
	_ = g.Wait()

	resolved := make([]string, 0, len(ids))
	for i, id := range ids {
		if results[i] {
			resolved = append(resolved, id)
		}
	}
	return resolved
}
