package onboard

import (
	"fmt"
	"sort"
	"strings"
)

// FormError is the FieldErrors key used for errors that belong to the step
// as a whole rather than a single field.
const FormError = ""

// FieldErrors maps field names to human readable messages.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	fields := e.Fields()
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		label := field
		if label == FormError {
			label = "form"
		}
		parts = append(parts, label+": "+e[field])
	}
	return "onboard: invalid input: " + strings.Join(parts, "; ")
}

// Fields returns the failing field names sorted alphabetically.
func (e FieldErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Outcome is the result of validating one step: either a normalized value
// or a set of field errors.
type Outcome struct {
	Value  map[string]any
	Errors FieldErrors
}

// Valid wraps a validated value.
func Valid(value map[string]any) Outcome {
	if value == nil {
		value = map[string]any{}
	}
	return Outcome{Value: value}
}

// Invalid wraps field errors.
func Invalid(errs FieldErrors) Outcome {
	if len(errs) == 0 {
		errs = FieldErrors{FormError: "invalid input"}
	}
	return Outcome{Errors: errs}
}

// OK reports whether the outcome carries a valid value.
func (o Outcome) OK() bool {
	return len(o.Errors) == 0
}

// Schema validates the raw form values of a step. Implementations must be
// pure: the same input always yields the same outcome.
type Schema interface {
	Validate(raw map[string]any) Outcome
}

// StatefulSchema is implemented by schemas whose rules read earlier steps.
type StatefulSchema interface {
	Schema
	ValidateWith(raw map[string]any, state FlowState) Outcome
}

// SchemaFunc adapts a function to Schema.
type SchemaFunc func(raw map[string]any) Outcome

// Validate implements Schema.
func (f SchemaFunc) Validate(raw map[string]any) Outcome {
	return f(raw)
}

// Step pairs a step name with its schema.
type Step struct {
	Name   string
	Schema Schema
}

// Schemas is an ordered set of uniquely named steps. The order defines both
// the UI sequence and where validation failures are routed.
type Schemas struct {
	steps []Step
	index map[string]int
}

// NewSchemas validates and freezes the step sequence.
func NewSchemas(steps ...Step) (*Schemas, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	s := &Schemas{
		steps: make([]Step, 0, len(steps)),
		index: make(map[string]int, len(steps)),
	}
	for _, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("onboard: step name must not be empty")
		}
		if step.Schema == nil {
			return nil, fmt.Errorf("onboard: step %q has no schema", step.Name)
		}
		if _, exists := s.index[step.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStep, step.Name)
		}
		s.index[step.Name] = len(s.steps)
		s.steps = append(s.steps, step)
	}
	return s, nil
}

// Names returns step names in order.
func (s *Schemas) Names() []string {
	names := make([]string, len(s.steps))
	for i, step := range s.steps {
		names[i] = step.Name
	}
	return names
}

// Len reports the number of steps.
func (s *Schemas) Len() int { return len(s.steps) }

// Lookup returns the schema registered for name.
func (s *Schemas) Lookup(name string) (Schema, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.steps[i].Schema, true
}

// Index returns the position of name in the sequence.
func (s *Schemas) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// First returns the first step name.
func (s *Schemas) First() string { return s.steps[0].Name }

// Last returns the last step name.
func (s *Schemas) Last() string { return s.steps[len(s.steps)-1].Name }

// IsLast reports whether name is the terminal step.
func (s *Schemas) IsLast(name string) bool { return name == s.Last() }

// Next returns the step after name. ok is false for the last or an unknown step.
func (s *Schemas) Next(name string) (string, bool) {
	i, ok := s.index[name]
	if !ok || i+1 >= len(s.steps) {
		return "", false
	}
	return s.steps[i+1].Name, true
}

// validate runs the schema for step, passing the accumulated flow state to
// stateful schemas.
func (s *Schemas) validate(step string, raw map[string]any, flow FlowState) (Outcome, error) {
	schema, ok := s.Lookup(step)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	if stateful, ok := schema.(StatefulSchema); ok {
		return stateful.ValidateWith(raw, flow), nil
	}
	return schema.Validate(raw), nil
}

// FieldDescriptor describes a persisted field path and its Go type.
type FieldDescriptor struct {
	Path string
	Type string
}

// DescribeFields flattens value into sorted dotted paths with their types.
func DescribeFields(value any) []FieldDescriptor {
	descriptors := deriveFieldDescriptors(value, "")
	if descriptors == nil {
		descriptors = []FieldDescriptor{}
	}
	return descriptors
}

func deriveFieldDescriptors(value any, prefix string) []FieldDescriptor {
	if value == nil {
		return nil
	}

	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix == "" {
				return nil
			}
			return []FieldDescriptor{{
				Path: prefix,
				Type: "map[string]any",
			}}
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var fields []FieldDescriptor
		for _, key := range keys {
			fields = append(fields, deriveFieldDescriptors(typed[key], joinPath(prefix, key))...)
		}
		return fields
	case []any:
		elementType := "any"
		if len(typed) > 0 {
			elementType = typeName(typed[0])
		}
		return []FieldDescriptor{{
			Path: prefix,
			Type: "[]" + elementType,
		}}
	default:
		if prefix == "" {
			return nil
		}
		return []FieldDescriptor{{
			Path: prefix,
			Type: typeName(typed),
		}}
	}
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", value)
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}
