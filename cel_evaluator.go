package onboard

import (
	"maps"
	"reflect"
	"slices"

	celgo "github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// celEvaluator runs rules written in CEL. Only the identifiers an expression
// references are declared, as dyn variables, so one checked program serves
// every field set and is cached per expression. The strings extension
// supplies trim and friends.
type celEvaluator struct {
	engineConfig
}

// NewCELEvaluator constructs an Evaluator backed by cel-go.
func NewCELEvaluator(opts ...EvaluatorOption) Evaluator {
	return &celEvaluator{engineConfig: newEngineConfig(opts)}
}

func (e *celEvaluator) Engine() RuleEngine { return EngineCEL }

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *celEvaluator) Compile(expression string) (CompiledRule, error) {
	if err := requireExpression(EngineCEL, expression); err != nil {
		return nil, err
	}
	if cached, ok := e.load(EngineCEL, expression); ok {
		if rule, ok := cached.(celRule); ok {
			return rule, nil
		}
	}
	rule, err := e.compile(expression)
	if err != nil {
		return nil, ruleError(EngineCEL, expression, "", "", err)
	}
	e.store(EngineCEL, expression, rule)
	return rule, nil
}

func (e *celEvaluator) compile(expression string) (celRule, error) {
	base, err := e.env(nil)
	if err != nil {
		return celRule{}, err
	}
	parsed, issues := base.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return celRule{}, issues.Err()
	}
	idents := celIdents(parsed)
	env, err := e.env(idents)
	if err != nil {
		return celRule{}, err
	}
	checked, issues := env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return celRule{}, issues.Err()
	}
	program, err := env.Program(checked)
	if err != nil {
		return celRule{}, err
	}
	return celRule{expression: expression, program: program, idents: idents}, nil
}

type celRule struct {
	expression string
	program    celgo.Program
	idents     []string
}

// Evaluate binds referenced fields the step does not carry to null.
func (r celRule) Evaluate(ctx RuleContext) (any, error) {
	vars := ctx.bindings()
	for _, ident := range r.idents {
		if _, ok := vars[ident]; !ok {
			vars[ident] = nil
		}
	}
	out, _, err := r.program.Eval(vars)
	if err != nil {
		return nil, ruleError(EngineCEL, r.expression, ctx.stepLabel(), ctx.Field, err)
	}
	return out.Value(), nil
}

func (e *celEvaluator) env(fields []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		ext.Strings(),
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("state", celgo.DynType),
		celgo.Variable("step", celgo.StringType),
	}
	for _, field := range fields {
		opts = append(opts, celgo.Variable(field, celgo.DynType))
	}
	if e.functions != nil {
		for _, name := range e.functions.Names() {
			fn := e.functions.bound(name)
			opts = append(opts, celgo.Function(name,
				celgo.Overload(name+"_dyn", []*celgo.Type{celgo.DynType}, celgo.DynType,
					celgo.UnaryBinding(func(arg ref.Val) ref.Val {
						return celResult(fn(arg.Value()))
					}),
				),
			))
		}
		opts = append(opts, celgo.Function("call",
			celgo.Overload("call_string_list", []*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)}, celgo.DynType,
				celgo.BinaryBinding(e.call),
			),
		))
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) call(name, list ref.Val) ref.Val {
	fn, ok := name.Value().(string)
	if !ok {
		return types.NewErr("onboard: call name must be string")
	}
	native, err := list.ConvertToNative(reflect.TypeOf([]any{}))
	if err != nil {
		return types.NewErr("onboard: call arguments: %v", err)
	}
	args, _ := native.([]any)
	for i, arg := range args {
		if val, ok := arg.(ref.Val); ok {
			args[i] = val.Value()
		}
	}
	return celResult(e.functions.Call(fn, args...))
}

func celResult(value any, err error) ref.Val {
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if value == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(value)
}

// celIdents lists the variables expression refers to, sorted. Reserved
// names and CEL type identifiers are declared by the environment already.
func celIdents(parsed *celgo.Ast) []string {
	seen := map[string]struct{}{}
	celast.PostOrderVisit(parsed.NativeRep().Expr(), celast.NewExprVisitor(func(e celast.Expr) {
		if e.Kind() != celast.IdentKind {
			return
		}
		name := e.AsIdent()
		if _, builtin := celBuiltinIdents[name]; !builtin {
			seen[name] = struct{}{}
		}
	}))
	return slices.Sorted(maps.Keys(seen))
}

var celBuiltinIdents = map[string]struct{}{
	"now": {}, "state": {}, "step": {},
	"bool": {}, "bytes": {}, "double": {}, "int": {}, "uint": {}, "string": {},
	"list": {}, "map": {}, "null_type": {}, "type": {}, "dyn": {},
}
