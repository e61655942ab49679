package onboard

import (
	"fmt"
	"time"

	"github.com/goliatone/go-onboarding/layering"
)

// FieldRule is a boolean expression that must hold for Field. Message is
// reported when it does not.
type FieldRule struct {
	Field   string
	Expr    string
	Message string
}

// FieldTransform rewrites Field with the result of Expr once every rule has
// passed. Transforms only run for fields present in the input.
type FieldTransform struct {
	Field string
	Expr  string
}

type compiledFieldRule struct {
	FieldRule
	program CompiledRule
}

type compiledTransform struct {
	FieldTransform
	program CompiledRule
}

// RuleSchema is a declarative Schema evaluated by an expression engine.
type RuleSchema struct {
	step       string
	evaluator  Evaluator
	fields     []string
	defaults   map[string]any
	rules      []FieldRule
	transforms []FieldTransform
	logger     EvaluatorLogger

	compiledRules      []compiledFieldRule
	compiledTransforms []compiledTransform
}

// RuleSchemaOption configures a RuleSchema.
type RuleSchemaOption func(*RuleSchema)

// WithEvaluator selects the expression engine. expr is used by default.
func WithEvaluator(evaluator Evaluator) RuleSchemaOption {
	return func(s *RuleSchema) {
		if evaluator != nil {
			s.evaluator = evaluator
		}
	}
}

// WithFields restricts the validated value to the listed fields. Unknown
// input keys are dropped.
func WithFields(fields ...string) RuleSchemaOption {
	return func(s *RuleSchema) {
		s.fields = append(s.fields, fields...)
	}
}

// WithFieldDefault fills field when the input omits it.
func WithFieldDefault(field string, value any) RuleSchemaOption {
	return func(s *RuleSchema) {
		if s.defaults == nil {
			s.defaults = map[string]any{}
		}
		s.defaults[field] = value
	}
}

// WithRule appends a validation rule. Rules for one field run in order and
// the first failure wins.
func WithRule(field, expr, message string) RuleSchemaOption {
	return func(s *RuleSchema) {
		s.rules = append(s.rules, FieldRule{Field: field, Expr: expr, Message: message})
	}
}

// WithTransform appends a field transform.
func WithTransform(field, expr string) RuleSchemaOption {
	return func(s *RuleSchema) {
		s.transforms = append(s.transforms, FieldTransform{Field: field, Expr: expr})
	}
}

// WithRuleLogger routes evaluation events to logger.
func WithRuleLogger(logger EvaluatorLogger) RuleSchemaOption {
	return func(s *RuleSchema) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRuleSchema compiles every rule and transform up front so malformed
// expressions fail at construction rather than on first submit.
func NewRuleSchema(step string, opts ...RuleSchemaOption) (*RuleSchema, error) {
	s := &RuleSchema{
		step:   step,
		logger: noopEvaluatorLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.evaluator == nil {
		s.evaluator = NewExprEvaluator(
			WithProgramCache(NewProgramCache()),
			WithRuleFunctions(DefaultRuleFunctions()),
		)
	}

	for _, rule := range s.rules {
		program, err := s.evaluator.Compile(rule.Expr)
		if err != nil {
			return nil, ruleError(s.evaluator.Engine(), rule.Expr, step, rule.Field, err)
		}
		s.compiledRules = append(s.compiledRules, compiledFieldRule{FieldRule: rule, program: program})
	}
	for _, transform := range s.transforms {
		program, err := s.evaluator.Compile(transform.Expr)
		if err != nil {
			return nil, ruleError(s.evaluator.Engine(), transform.Expr, step, transform.Field, err)
		}
		s.compiledTransforms = append(s.compiledTransforms, compiledTransform{FieldTransform: transform, program: program})
	}
	return s, nil
}

// MustRuleSchema is NewRuleSchema for package level schema definitions.
func MustRuleSchema(step string, opts ...RuleSchemaOption) *RuleSchema {
	s, err := NewRuleSchema(step, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate implements Schema.
func (s *RuleSchema) Validate(raw map[string]any) Outcome {
	return s.ValidateWith(raw, FlowState{})
}

// ValidateWith implements StatefulSchema. Earlier steps are visible to
// expressions under "state".
func (s *RuleSchema) ValidateWith(raw map[string]any, flow FlowState) Outcome {
	values := layering.MergeMaps(raw, s.defaults)
	ctx := RuleContext{
		Values: values,
		State:  flow.Values(),
		Step:   s.step,
	}

	errs := FieldErrors{}
	for _, rule := range s.compiledRules {
		if _, failed := errs[rule.Field]; failed {
			continue
		}
		ctx.Field = rule.Field
		ok, err := s.check(ctx, rule)
		if err != nil || !ok {
			errs[rule.Field] = rule.Message
		}
	}
	if len(errs) > 0 {
		return Invalid(errs)
	}

	for _, transform := range s.compiledTransforms {
		current, present := values[transform.Field]
		if !present || current == nil {
			continue
		}
		ctx.Values = values
		ctx.Field = transform.Field
		started := time.Now()
		result, err := transform.program.Evaluate(ctx)
		s.log(transform.Expr, transform.Field, started, err)
		if err != nil {
			return Invalid(FieldErrors{transform.Field: "invalid value"})
		}
		values[transform.Field] = result
	}

	return Valid(s.project(values))
}

func (s *RuleSchema) check(ctx RuleContext, rule compiledFieldRule) (bool, error) {
	started := time.Now()
	result, err := rule.program.Evaluate(ctx)
	if err == nil {
		if _, isBool := result.(bool); !isBool {
			err = ruleError(s.evaluator.Engine(), rule.Expr, s.step, rule.Field,
				fmt.Errorf("rule must return bool, got %T", result))
		}
	}
	s.log(rule.Expr, rule.Field, started, err)
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *RuleSchema) project(values map[string]any) map[string]any {
	if len(s.fields) == 0 {
		return values
	}
	out := make(map[string]any, len(s.fields))
	for _, field := range s.fields {
		if value, ok := values[field]; ok {
			out[field] = value
		}
	}
	return out
}

func (s *RuleSchema) log(expr, field string, started time.Time, err error) {
	s.logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   string(s.evaluator.Engine()),
		Expr:     expr,
		Step:     s.step,
		Field:    field,
		Duration: time.Since(started),
		Err:      err,
	})
}
