package xp

import "time"

// EvalLogEvent describes one predicate evaluation attempt for logging.
type EvalLogEvent struct {
	Engine   string
	Expr     string
	Audience string
	Page     string
	Duration time.Duration
	Result   bool
	Err      error
}

// EvalLogger records predicate evaluation events.
type EvalLogger interface {
	LogEvaluation(EvalLogEvent)
}

// EvalLoggerFunc adapts a function to EvalLogger.
type EvalLoggerFunc func(EvalLogEvent)

// LogEvaluation implements EvalLogger.
func (f EvalLoggerFunc) LogEvaluation(event EvalLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvalLogger struct{}

func (noopEvalLogger) LogEvaluation(EvalLogEvent) {}
