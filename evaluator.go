package xp

import "fmt"

// Evaluator executes predicate expressions against a visitor context.
type Evaluator interface {
	Evaluate(visitor VisitorContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable predicate expression program.
type CompiledRule interface {
	Evaluate(visitor VisitorContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*xp.exprEvaluator":
		return "expr"
	case "*xp.celEvaluator":
		return "cel"
	case "*xp.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}

// truthy converts an evaluator result into predicate membership. Strings are
// members when non-empty and not "false"; numbers when non-zero.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case uint64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}
