package onboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goliatone/go-onboarding/internal/hydrate"
	"github.com/goliatone/go-onboarding/internal/logging"
	"github.com/goliatone/go-onboarding/layering"
	"github.com/goliatone/go-onboarding/pkg/state"
)

// DefaultFlowRef is where flow state is persisted unless overridden.
var DefaultFlowRef = state.Ref{Domain: "onboarding.flow"}

// FlowState holds the validated payload of every completed step and the
// step the user is currently on.
type FlowState struct {
	Steps   map[string]map[string]any `json:"steps,omitempty"`
	Current string                    `json:"current,omitempty"`
}

// Step returns a copy of the payload persisted for name.
func (s FlowState) Step(name string) (map[string]any, bool) {
	payload, ok := s.Steps[name]
	if !ok {
		return nil, false
	}
	return layering.Clone(payload), true
}

// Values exposes the completed steps as a generic map keyed by step name.
func (s FlowState) Values() map[string]any {
	out := make(map[string]any, len(s.Steps))
	for name, payload := range s.Steps {
		out[name] = layering.Clone(payload)
	}
	return out
}

func (s FlowState) clone() FlowState {
	return FlowState{Steps: layering.Clone(s.Steps), Current: s.Current}
}

// TerminalAction runs after the last step validated. It receives a detached
// copy of the accumulated flow state.
type TerminalAction func(ctx context.Context, flow FlowState) error

// DefaultsResolver provides fallback form values for a step. It sees every
// completed step so later defaults can depend on earlier answers.
type DefaultsResolver func(step string, flow FlowState) map[string]any

// SubmitStatus is the outcome kind of a Submit call.
type SubmitStatus string

const (
	StatusInvalid   SubmitStatus = "invalid"
	StatusAdvanced  SubmitStatus = "advanced"
	StatusCompleted SubmitStatus = "completed"
)

// SubmitResult describes what happened to a submit. For StatusInvalid, Step
// is the step the user must be routed to, which may be an earlier step than
// the one submitted.
type SubmitResult struct {
	Step   string
	Status SubmitStatus
	Next   string
	Errors FieldErrors
	Flow   FlowState
}

// StepFormOrchestrator drives an ordered sequence of validated form steps,
// persisting every valid step immediately.
type StepFormOrchestrator struct {
	mu         sync.Mutex
	schemas    *Schemas
	store      state.Store[FlowState]
	resolver   state.Resolver[FlowState]
	ref        state.Ref
	terminal   TerminalAction
	defaults   DefaultsResolver
	logger     *slog.Logger
	metrics    *Metrics
	flow       FlowState
	submitting bool
}

// OrchestratorOption configures a StepFormOrchestrator.
type OrchestratorOption func(*StepFormOrchestrator)

// WithFlowStore persists flow state in store.
func WithFlowStore(store state.Store[FlowState]) OrchestratorOption {
	return func(o *StepFormOrchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithFlowRef overrides DefaultFlowRef, e.g. to key flow state per device.
func WithFlowRef(ref state.Ref) OrchestratorOption {
	return func(o *StepFormOrchestrator) {
		o.ref = ref
	}
}

// WithTerminalAction sets the action invoked after the last step validates.
func WithTerminalAction(action TerminalAction) OrchestratorOption {
	return func(o *StepFormOrchestrator) {
		o.terminal = action
	}
}

// WithDefaultsResolver sets the fallback used by Defaults.
func WithDefaultsResolver(resolver DefaultsResolver) OrchestratorOption {
	return func(o *StepFormOrchestrator) {
		if resolver != nil {
			o.defaults = resolver
		}
	}
}

// WithOrchestratorLogger attaches a logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *StepFormOrchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOrchestratorMetrics records step submissions.
func WithOrchestratorMetrics(metrics *Metrics) OrchestratorOption {
	return func(o *StepFormOrchestrator) {
		o.metrics = metrics
	}
}

// NewStepFormOrchestrator builds an orchestrator over schemas and restores
// any flow state already persisted under its ref.
func NewStepFormOrchestrator(ctx context.Context, schemas *Schemas, opts ...OrchestratorOption) (*StepFormOrchestrator, error) {
	if schemas == nil || schemas.Len() == 0 {
		return nil, ErrNoSteps
	}
	o := &StepFormOrchestrator{
		schemas:  schemas,
		ref:      DefaultFlowRef,
		defaults: func(string, FlowState) map[string]any { return map[string]any{} },
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.store == nil {
		o.store = state.NewMemoryStore[FlowState]()
	}
	o.resolver = state.Resolver[FlowState]{Store: o.store}
	if err := o.restore(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *StepFormOrchestrator) restore(ctx context.Context) error {
	persisted, _, ok, err := o.store.Load(ctx, o.ref)
	if err != nil {
		return fmt.Errorf("onboard: restore flow state: %w", err)
	}
	flow := FlowState{Current: o.schemas.First()}
	if ok {
		for name, payload := range persisted.Steps {
			if _, known := o.schemas.Index(name); !known {
				o.logger.Warn("dropping persisted step that is no longer registered", slog.String(logging.FieldStep, name))
				continue
			}
			if flow.Steps == nil {
				flow.Steps = map[string]map[string]any{}
			}
			flow.Steps[name] = payload
		}
		if _, known := o.schemas.Index(persisted.Current); known {
			flow.Current = persisted.Current
		}
	}
	o.flow = flow
	return nil
}

// Schemas returns the step sequence.
func (o *StepFormOrchestrator) Schemas() *Schemas { return o.schemas }

// Current returns the step the user is on.
func (o *StepFormOrchestrator) Current() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flow.Current
}

// State returns a copy of the accumulated flow state.
func (o *StepFormOrchestrator) State() FlowState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flow.clone()
}

// Defaults returns the form values for step: the persisted payload layered
// over the fallback resolver.
func (o *StepFormOrchestrator) Defaults(_ context.Context, step string) (map[string]any, error) {
	if _, ok := o.schemas.Index(step); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	flow := o.State()
	persisted, _ := flow.Step(step)
	return layering.MergeMaps(persisted, o.defaults(step, flow)), nil
}

// Submit validates raw against step. Invalid input changes nothing. Valid
// input is persisted immediately and the pointer advances; on the last step
// every earlier step is re-checked and the terminal action runs once.
func (o *StepFormOrchestrator) Submit(ctx context.Context, step string, raw map[string]any) (SubmitResult, error) {
	o.mu.Lock()
	index, ok := o.schemas.Index(step)
	if !ok {
		o.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	if o.submitting {
		o.mu.Unlock()
		return SubmitResult{}, ErrSubmitInProgress
	}
	if current, _ := o.schemas.Index(o.flow.Current); index > current {
		o.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("%w: %q submitted while on %q", ErrStepOutOfOrder, step, o.flow.Current)
	}
	last := o.schemas.IsLast(step)
	if last && o.terminal == nil {
		o.mu.Unlock()
		return SubmitResult{}, ErrNoTerminalAction
	}

	outcome, err := o.schemas.validate(step, raw, o.flow)
	if err != nil {
		o.mu.Unlock()
		return SubmitResult{}, err
	}
	if !outcome.OK() {
		o.mu.Unlock()
		o.metrics.observeSubmit(step, string(StatusInvalid))
		o.logger.Debug("step invalid", slog.String(logging.FieldStep, step), slog.Any("fields", outcome.Errors.Fields()))
		return SubmitResult{Step: step, Status: StatusInvalid, Errors: outcome.Errors, Flow: o.State()}, nil
	}

	next := o.flow.clone()
	if next.Steps == nil {
		next.Steps = map[string]map[string]any{}
	}
	next.Steps[step] = outcome.Value
	if !last {
		next.Current, _ = o.schemas.Next(step)
	} else {
		next.Current = step
	}

	if err := o.persist(ctx, next); err != nil {
		o.mu.Unlock()
		return SubmitResult{}, err
	}
	o.flow = next

	if !last {
		o.mu.Unlock()
		o.metrics.observeSubmit(step, string(StatusAdvanced))
		o.logger.Debug("step advanced", slog.String(logging.FieldStep, step), slog.String("next", next.Current))
		return SubmitResult{Step: step, Status: StatusAdvanced, Next: next.Current, Flow: next.clone()}, nil
	}

	if failing, errs := o.recheckLocked(); failing != "" {
		o.flow.Current = failing
		routed := o.flow.clone()
		perr := o.persist(ctx, routed)
		o.mu.Unlock()
		if perr != nil {
			return SubmitResult{}, perr
		}
		o.metrics.observeSubmit(step, string(StatusInvalid))
		o.logger.Info("terminal submit routed to incomplete step", slog.String(logging.FieldStep, failing))
		return SubmitResult{Step: failing, Status: StatusInvalid, Errors: errs, Flow: routed}, nil
	}

	o.submitting = true
	snapshot := o.flow.clone()
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.submitting = false
		o.mu.Unlock()
	}()

	o.metrics.observeSubmit(step, string(StatusCompleted))
	err = o.terminal(ctx, snapshot)
	return SubmitResult{Step: step, Status: StatusCompleted, Flow: snapshot}, err
}

// recheckLocked returns the first earlier step that is missing or no longer
// validates against the accumulated state.
func (o *StepFormOrchestrator) recheckLocked() (string, FieldErrors) {
	for _, name := range o.schemas.Names() {
		if o.schemas.IsLast(name) {
			break
		}
		payload, ok := o.flow.Steps[name]
		if !ok {
			return name, FieldErrors{FormError: "step not completed"}
		}
		outcome, err := o.schemas.validate(name, payload, o.flow)
		if err != nil {
			return name, FieldErrors{FormError: err.Error()}
		}
		if !outcome.OK() {
			return name, outcome.Errors
		}
	}
	return "", nil
}

func (o *StepFormOrchestrator) persist(ctx context.Context, flow FlowState) error {
	_, _, err := o.resolver.Mutate(ctx, o.ref, state.Meta{}, func(current *FlowState) error {
		*current = flow.clone()
		return nil
	})
	if err != nil {
		return fmt.Errorf("onboard: persist flow state: %w", err)
	}
	return nil
}

// Reset clears all flow state, in memory and persisted, and points back at
// the first step.
func (o *StepFormOrchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flow = FlowState{Current: o.schemas.First()}
	if err := o.store.Delete(ctx, o.ref); err != nil {
		return fmt.Errorf("onboard: clear flow state: %w", err)
	}
	return nil
}

// DecodeStep hydrates the persisted payload of step into T. Keys T does not
// declare are rejected and T's Validate method runs when present.
func DecodeStep[T any](flow FlowState, step string) (T, error) {
	var zero T
	payload, ok := flow.Step(step)
	if !ok {
		return zero, fmt.Errorf("%w: %q has no persisted value", ErrUnknownStep, step)
	}
	return hydrate.Step[T](step, payload, hydrate.Strict())
}
