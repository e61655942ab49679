package onboard

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// RuleFunction is a helper callable from rule expressions.
type RuleFunction func(args ...any) (any, error)

// RuleFunctions is an immutable set of helpers keyed by lowercase name.
// Every engine exposes the same set.
type RuleFunctions struct {
	byName map[string]RuleFunction
}

// NewRuleFunctions validates and freezes fns.
func NewRuleFunctions(fns map[string]RuleFunction) (*RuleFunctions, error) {
	out := &RuleFunctions{byName: make(map[string]RuleFunction, len(fns))}
	for name, fn := range fns {
		key := strings.ToLower(strings.TrimSpace(name))
		switch {
		case key == "":
			return nil, fmt.Errorf("onboard: rule function name must not be empty")
		case fn == nil:
			return nil, fmt.Errorf("onboard: rule function %q is nil", name)
		case key == "call":
			return nil, fmt.Errorf("onboard: rule function name %q is reserved", name)
		}
		if _, dup := out.byName[key]; dup {
			return nil, fmt.Errorf("onboard: rule function %q declared twice", name)
		}
		out.byName[key] = fn
	}
	return out, nil
}

// With returns a copy that also holds fn under name.
func (f *RuleFunctions) With(name string, fn RuleFunction) (*RuleFunctions, error) {
	merged := map[string]RuleFunction{}
	if f != nil {
		if _, taken := f.byName[strings.ToLower(strings.TrimSpace(name))]; taken {
			return nil, fmt.Errorf("onboard: rule function %q declared twice", name)
		}
		maps.Copy(merged, f.byName)
	}
	merged[name] = fn
	return NewRuleFunctions(merged)
}

// Names lists the helper names in sorted order.
func (f *RuleFunctions) Names() []string {
	if f == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(f.byName))
}

// Call runs the helper registered as name.
func (f *RuleFunctions) Call(name string, args ...any) (any, error) {
	var fn RuleFunction
	if f != nil {
		fn = f.byName[strings.ToLower(name)]
	}
	if fn == nil {
		return nil, fmt.Errorf("onboard: rule function %q not registered", name)
	}
	return fn(args...)
}

func (f *RuleFunctions) bound(name string) func(args ...any) (any, error) {
	return func(args ...any) (any, error) { return f.Call(name, args...) }
}

func (f *RuleFunctions) dispatch(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("onboard: call expects a function name")
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("onboard: call name must be string, got %T", args[0])
	}
	return f.Call(name, args[1:]...)
}

// DefaultRuleFunctions holds blank(v), which reports a nil or
// whitespace-only value.
func DefaultRuleFunctions() *RuleFunctions {
	fns, err := NewRuleFunctions(map[string]RuleFunction{
		"blank": func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("onboard: blank expects 1 argument, got %d", len(args))
			}
			text, ok := args[0].(string)
			if !ok {
				return args[0] == nil, nil
			}
			return strings.TrimSpace(text) == "", nil
		},
	})
	if err != nil {
		panic(err)
	}
	return fns
}
