package onboard

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

var engines = []RuleEngine{EngineExpr, EngineCEL, EngineJS}

type fakeProgramCache struct {
	mu     sync.Mutex
	values map[string]any
	hits   int
	misses int
}

func (c *fakeProgramCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return value, ok
}

func (c *fakeProgramCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]any{}
	}
	c.values[key] = value
}

func mustEvaluator(t *testing.T, engine RuleEngine, opts ...EvaluatorOption) Evaluator {
	t.Helper()
	evaluator, err := NewEvaluator(engine, opts...)
	if err != nil {
		t.Fatalf("new %s evaluator: %v", engine, err)
	}
	if evaluator.Engine() != engine {
		t.Fatalf("expected engine %s, got %s", engine, evaluator.Engine())
	}
	return evaluator
}

func TestEvaluatorsSeeStepValuesAndState(t *testing.T) {
	expressions := map[RuleEngine]string{
		EngineExpr: `shareTelemetry == "minimal-telemetry" && state.NewLibrary.name == "My Library" && step == "Privacy"`,
		EngineCEL:  `shareTelemetry == "minimal-telemetry" && state.NewLibrary.name == "My Library" && step == "Privacy"`,
		EngineJS:   `shareTelemetry === "minimal-telemetry" && state.NewLibrary.name === "My Library" && step === "Privacy"`,
	}
	ctx := RuleContext{
		Step:   StepPrivacy,
		Values: map[string]any{"shareTelemetry": "minimal-telemetry"},
		State: map[string]any{
			StepNewLibrary: map[string]any{"name": "My Library"},
		},
	}
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			got, err := mustEvaluator(t, engine).Evaluate(ctx, expressions[engine])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != true {
				t.Fatalf("expected true, got %#v", got)
			}
		})
	}
}

func TestEvaluatorProgramCache(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			cache := &fakeProgramCache{}
			evaluator := mustEvaluator(t, engine, WithProgramCache(cache))
			ctx := RuleContext{Values: map[string]any{"name": "abc"}}
			for i := range 3 {
				if _, err := evaluator.Evaluate(ctx, `name == "abc"`); err != nil {
					t.Fatalf("iteration %d: %v", i, err)
				}
			}
			if cache.misses != 1 || cache.hits != 2 {
				t.Fatalf("expected 1 miss and 2 hits, got %d misses %d hits", cache.misses, cache.hits)
			}
		})
	}
}

func TestEvaluatorCacheIgnoresExtraInputKeys(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			cache := &fakeProgramCache{}
			evaluator := mustEvaluator(t, engine, WithProgramCache(cache))
			for i := range 5 {
				values := map[string]any{"name": "abc", fmt.Sprintf("extra%d", i): i}
				got, err := evaluator.Evaluate(RuleContext{Values: values}, `name == "abc"`)
				if err != nil {
					t.Fatalf("submission %d: %v", i, err)
				}
				if got != true {
					t.Fatalf("submission %d: expected true, got %#v", i, got)
				}
			}
			if len(cache.values) != 1 {
				t.Fatalf("expected one cached program, got %d", len(cache.values))
			}
		})
	}
}

func TestCELMissingFieldIsNull(t *testing.T) {
	evaluator := mustEvaluator(t, EngineCEL)
	got, err := evaluator.Evaluate(RuleContext{Values: map[string]any{"other": 1}}, `name == null`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != true {
		t.Fatalf("expected absent field to read as null, got %#v", got)
	}
}

func TestEnginesShareOneCache(t *testing.T) {
	cache := &fakeProgramCache{}
	ctx := RuleContext{Values: map[string]any{"name": "abc"}}
	for _, engine := range engines {
		if _, err := mustEvaluator(t, engine, WithProgramCache(cache)).Evaluate(ctx, `name == "abc"`); err != nil {
			t.Fatalf("%s: %v", engine, err)
		}
	}
	if len(cache.values) != 3 {
		t.Fatalf("expected one entry per engine, got %d", len(cache.values))
	}
}

func TestEvaluatorCompiledRuleReuse(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			rule, err := mustEvaluator(t, engine, WithProgramCache(NewProgramCache())).Compile(`name == "abc"`)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			for value, want := range map[string]bool{"abc": true, "xyz": false} {
				got, err := rule.Evaluate(RuleContext{Values: map[string]any{"name": value}})
				if err != nil {
					t.Fatalf("evaluate %q: %v", value, err)
				}
				if got != want {
					t.Fatalf("name=%q: expected %v, got %#v", value, want, got)
				}
			}
		})
	}
}

func TestEvaluatorRejectsEmptyAndMalformedExpressions(t *testing.T) {
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			evaluator := mustEvaluator(t, engine)
			if _, err := evaluator.Evaluate(RuleContext{}, " "); err == nil {
				t.Fatalf("expected error for empty expression")
			}
			_, err := evaluator.Compile(`name ==`)
			var evalErr *EvaluationError
			if !errors.As(err, &evalErr) || evalErr.Engine != engine {
				t.Fatalf("expected %s evaluation error, got %v", engine, err)
			}
		})
	}
}

func TestEvaluatorsCallRuleFunctions(t *testing.T) {
	byName := map[RuleEngine][2]string{
		EngineExpr: {`blank(name)`, `call("blank", name)`},
		EngineCEL:  {`blank(name)`, `call("blank", [name])`},
		EngineJS:   {`blank(name)`, `call("blank", name)`},
	}
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			evaluator := mustEvaluator(t, engine, WithRuleFunctions(DefaultRuleFunctions()))
			for input, want := range map[string]bool{"   ": true, "abc": false} {
				ctx := RuleContext{Values: map[string]any{"name": input}}
				for _, expression := range byName[engine] {
					got, err := evaluator.Evaluate(ctx, expression)
					if err != nil {
						t.Fatalf("%s with %q: %v", expression, input, err)
					}
					if got != want {
						t.Fatalf("%s with %q: expected %v, got %#v", expression, input, want, got)
					}
				}
			}
		})
	}
}

func TestRuleFunctions(t *testing.T) {
	if _, err := NewRuleFunctions(map[string]RuleFunction{"call": func(...any) (any, error) { return nil, nil }}); err == nil {
		t.Fatalf("expected reserved name to be rejected")
	}
	if _, err := NewRuleFunctions(map[string]RuleFunction{"nothing": nil}); err == nil {
		t.Fatalf("expected nil function to be rejected")
	}

	extended, err := DefaultRuleFunctions().With("Shout", func(args ...any) (any, error) {
		return args[0].(string) + "!", nil
	})
	if err != nil {
		t.Fatalf("with: %v", err)
	}
	if !reflect.DeepEqual(extended.Names(), []string{"blank", "shout"}) {
		t.Fatalf("unexpected names %v", extended.Names())
	}
	if got, err := extended.Call("SHOUT", "hi"); err != nil || got != "hi!" {
		t.Fatalf("unexpected call result %v err=%v", got, err)
	}
	if _, err := extended.With("blank", func(...any) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
	if _, err := DefaultRuleFunctions().Call("missing"); err == nil {
		t.Fatalf("expected unknown function error")
	}
	if _, err := DefaultRuleFunctions().Call("blank"); err == nil {
		t.Fatalf("expected arity error")
	}
}

func TestParseRuleEngine(t *testing.T) {
	cases := map[string]RuleEngine{"": EngineExpr, " CEL ": EngineCEL, "js": EngineJS, "expr": EngineExpr}
	for input, want := range cases {
		got, err := ParseRuleEngine(input)
		if err != nil || got != want {
			t.Fatalf("ParseRuleEngine(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseRuleEngine("lua"); err == nil {
		t.Fatalf("expected unknown engine error")
	}
	if _, err := NewEvaluator("lua"); err == nil {
		t.Fatalf("expected unknown engine error from NewEvaluator")
	}
}

func TestEvaluatorRuntimeErrorCarriesStep(t *testing.T) {
	_, err := NewExprEvaluator().Evaluate(RuleContext{Step: StepNewLibrary, Field: "name", Values: map[string]any{"name": "x"}}, `int(name) > 0`)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %v", err)
	}
	if evalErr.Engine != "expr" || evalErr.Step != StepNewLibrary || evalErr.Field != "name" {
		t.Fatalf("unexpected metadata %+v", evalErr)
	}
}
