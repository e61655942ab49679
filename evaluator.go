package onboard

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// RuleContext carries the inputs visible to a validation or transform
// expression: the raw values of the step being submitted plus the accumulated
// flow state of earlier steps.
type RuleContext struct {
	Values map[string]any
	State  map[string]any
	Step   string
	Field  string
	Now    time.Time
}

// bindings flattens the context into the variables an expression sees. Step
// values are top level and never shadow the reserved names.
func (ctx RuleContext) bindings() map[string]any {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	state := ctx.State
	if state == nil {
		state = map[string]any{}
	}
	vars := make(map[string]any, len(ctx.Values)+3)
	for key, value := range ctx.Values {
		vars[key] = value
	}
	vars["now"] = now
	vars["state"] = state
	vars["step"] = ctx.Step
	return vars
}

func (ctx RuleContext) stepLabel() string {
	if ctx.Step != "" {
		return ctx.Step
	}
	return "unknown"
}

// RuleEngine names an expression language rules can be written in.
type RuleEngine string

const (
	EngineExpr RuleEngine = "expr"
	EngineCEL  RuleEngine = "cel"
	EngineJS   RuleEngine = "js"
)

// ParseRuleEngine accepts an engine name case-insensitively. Blank selects
// EngineExpr.
func ParseRuleEngine(name string) (RuleEngine, error) {
	switch engine := RuleEngine(strings.ToLower(strings.TrimSpace(name))); engine {
	case "":
		return EngineExpr, nil
	case EngineExpr, EngineCEL, EngineJS:
		return engine, nil
	default:
		return "", fmt.Errorf("onboard: unknown rule engine %q", name)
	}
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Engine() RuleEngine
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// NewProgramCache returns a concurrency-safe in-memory ProgramCache.
func NewProgramCache() ProgramCache {
	return &mapProgramCache{}
}

type mapProgramCache struct {
	programs sync.Map
}

func (c *mapProgramCache) Get(key string) (any, bool) {
	return c.programs.Load(key)
}

func (c *mapProgramCache) Set(key string, value any) {
	c.programs.Store(key, value)
}

// EvaluatorOption configures any of the rule engines.
type EvaluatorOption func(*engineConfig)

type engineConfig struct {
	cache     ProgramCache
	functions *RuleFunctions
}

// WithProgramCache shares compiled programs across evaluations.
func WithProgramCache(cache ProgramCache) EvaluatorOption {
	return func(c *engineConfig) { c.cache = cache }
}

// WithRuleFunctions exposes helper functions to expressions, both by name
// and through call(name, args).
func WithRuleFunctions(functions *RuleFunctions) EvaluatorOption {
	return func(c *engineConfig) { c.functions = functions }
}

func newEngineConfig(opts []EvaluatorOption) engineConfig {
	var cfg engineConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Cache keys are prefixed with the engine so one cache can serve all of them.
func (c engineConfig) load(engine RuleEngine, key string) (any, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(string(engine) + "|" + key)
}

func (c engineConfig) store(engine RuleEngine, key string, program any) {
	if c.cache != nil {
		c.cache.Set(string(engine)+"|"+key, program)
	}
}

// NewEvaluator builds the evaluator for engine.
func NewEvaluator(engine RuleEngine, opts ...EvaluatorOption) (Evaluator, error) {
	switch engine {
	case EngineExpr, "":
		return NewExprEvaluator(opts...), nil
	case EngineCEL:
		return NewCELEvaluator(opts...), nil
	case EngineJS:
		return NewJSEvaluator(opts...), nil
	default:
		return nil, fmt.Errorf("onboard: unknown rule engine %q", engine)
	}
}

func requireExpression(engine RuleEngine, expression string) error {
	if strings.TrimSpace(expression) == "" {
		return ruleError(engine, "", "", "", errors.New("expression must not be empty"))
	}
	return nil
}
