package onboard

import (
	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// exprEvaluator runs rules written for github.com/expr-lang/expr. Undeclared
// variables evaluate to nil, so a missing field reads as nil instead of
// failing compilation.
type exprEvaluator struct {
	engineConfig
}

// NewExprEvaluator constructs the default rule engine.
func NewExprEvaluator(opts ...EvaluatorOption) Evaluator {
	return &exprEvaluator{engineConfig: newEngineConfig(opts)}
}

func (e *exprEvaluator) Engine() RuleEngine { return EngineExpr }

func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *exprEvaluator) Compile(expression string) (CompiledRule, error) {
	if err := requireExpression(EngineExpr, expression); err != nil {
		return nil, err
	}
	if cached, ok := e.load(EngineExpr, expression); ok {
		if program, ok := cached.(*exprvm.Program); ok {
			return exprRule{program: program, expression: expression}, nil
		}
	}

	options := []exprlang.Option{exprlang.Env(map[string]any{}), exprlang.AllowUndefinedVariables()}
	if e.functions != nil {
		for _, name := range e.functions.Names() {
			options = append(options, exprlang.Function(name, e.functions.bound(name)))
		}
		options = append(options, exprlang.Function("call", e.functions.dispatch))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, ruleError(EngineExpr, expression, "", "", err)
	}
	e.store(EngineExpr, expression, program)
	return exprRule{program: program, expression: expression}, nil
}

type exprRule struct {
	program    *exprvm.Program
	expression string
}

func (r exprRule) Evaluate(ctx RuleContext) (any, error) {
	result, err := exprlang.Run(r.program, ctx.bindings())
	if err != nil {
		return nil, ruleError(EngineExpr, r.expression, ctx.stepLabel(), ctx.Field, err)
	}
	return result, nil
}
