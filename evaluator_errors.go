package onboard

import (
	"errors"
	"fmt"
	"strings"
)

// EvaluationError reports a rule expression that failed to compile or to run.
// A value that merely fails a rule is a FieldErrors entry, never this.
type EvaluationError struct {
	Engine RuleEngine
	Expr   string
	Step   string
	Field  string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "onboard: %s rule", e.Engine)
	if e.Step != "" {
		b.WriteString(" " + e.Step)
		if e.Field != "" {
			b.WriteString("." + e.Field)
		}
	}
	if e.Expr != "" {
		fmt.Fprintf(&b, " %q", e.Expr)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ruleError wraps err in an EvaluationError. When err already is one, a copy
// with its blank fields filled in is returned.
func ruleError(engine RuleEngine, expr, step, field string, err error) error {
	if err == nil {
		return nil
	}
	var existing *EvaluationError
	if !errors.As(err, &existing) {
		return &EvaluationError{Engine: engine, Expr: expr, Step: step, Field: field, Err: err}
	}
	filled := *existing
	fill := func(dst *string, value string) {
		if *dst == "" {
			*dst = value
		}
	}
	if filled.Engine == "" {
		filled.Engine = engine
	}
	fill(&filled.Expr, expr)
	fill(&filled.Step, step)
	fill(&filled.Field, field)
	return &filled
}
