package onboard

import (
	"fmt"

	"github.com/dop251/goja"
)

// jsEvaluator runs rules written as JavaScript expressions on goja. Each
// evaluation gets a fresh runtime; compiled programs are shared.
type jsEvaluator struct {
	engineConfig
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...EvaluatorOption) Evaluator {
	return &jsEvaluator{engineConfig: newEngineConfig(opts)}
}

func (e *jsEvaluator) Engine() RuleEngine { return EngineJS }

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *jsEvaluator) Compile(expression string) (CompiledRule, error) {
	if err := requireExpression(EngineJS, expression); err != nil {
		return nil, err
	}
	if cached, ok := e.load(EngineJS, expression); ok {
		if program, ok := cached.(*goja.Program); ok {
			return jsRule{evaluator: e, program: program, expression: expression}, nil
		}
	}
	program, err := goja.Compile("rule", fmt.Sprintf("(function(){ return (%s); })()", expression), true)
	if err != nil {
		return nil, ruleError(EngineJS, expression, "", "", err)
	}
	e.store(EngineJS, expression, program)
	return jsRule{evaluator: e, program: program, expression: expression}, nil
}

type jsRule struct {
	evaluator  *jsEvaluator
	program    *goja.Program
	expression string
}

func (r jsRule) Evaluate(ctx RuleContext) (any, error) {
	vm := goja.New()
	globals := ctx.bindings()
	if fns := r.evaluator.functions; fns != nil {
		for _, name := range fns.Names() {
			globals[name] = fns.bound(name)
		}
		globals["call"] = fns.dispatch
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return nil, ruleError(EngineJS, r.expression, ctx.stepLabel(), ctx.Field, err)
		}
	}
	value, err := vm.RunProgram(r.program)
	if err != nil {
		return nil, ruleError(EngineJS, r.expression, ctx.stepLabel(), ctx.Field, err)
	}
	return value.Export(), nil
}
