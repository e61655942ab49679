package onboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goliatone/go-onboarding/internal/logging"
	"github.com/goliatone/go-onboarding/pkg/activity"
	"github.com/goliatone/go-onboarding/pkg/state"
)

// DefaultTelemetryRef is where the telemetry preference is persisted.
var DefaultTelemetryRef = state.Ref{Domain: "onboarding.telemetry"}

// Telemetry holds the process-wide telemetry preference and gates event
// emission on it. Emission is fire and forget: failures are logged, never
// returned to the flow.
type Telemetry struct {
	mu      sync.RWMutex
	option  TelemetryOption
	store   state.Store[TelemetryOption]
	ref     state.Ref
	emitter *activity.Emitter
	logger  *slog.Logger
}

// TelemetryConfigOption configures Telemetry.
type TelemetryConfigOption func(*Telemetry)

// WithTelemetryStore persists the preference in store.
func WithTelemetryStore(store state.Store[TelemetryOption]) TelemetryConfigOption {
	return func(t *Telemetry) {
		t.store = store
	}
}

// WithTelemetryEmitter sets the activity emitter events are sent through.
func WithTelemetryEmitter(emitter *activity.Emitter) TelemetryConfigOption {
	return func(t *Telemetry) {
		t.emitter = emitter
	}
}

// WithTelemetryLogger attaches a logger.
func WithTelemetryLogger(logger *slog.Logger) TelemetryConfigOption {
	return func(t *Telemetry) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTelemetry restores the persisted preference, defaulting to sharing.
func NewTelemetry(ctx context.Context, opts ...TelemetryConfigOption) (*Telemetry, error) {
	t := &Telemetry{
		option: TelemetryShare,
		ref:    DefaultTelemetryRef,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.store == nil {
		return t, nil
	}
	option, _, ok, err := t.store.Load(ctx, t.ref)
	if err != nil {
		return nil, fmt.Errorf("onboard: load telemetry preference: %w", err)
	}
	if ok && option.Valid() {
		t.option = option
	}
	return t, nil
}

// Preference returns the current option.
func (t *Telemetry) Preference() TelemetryOption {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.option
}

// Sharing reports whether full telemetry is enabled.
func (t *Telemetry) Sharing() bool {
	return t.Preference().Sharing()
}

// SetPreference updates and persists the option.
func (t *Telemetry) SetPreference(ctx context.Context, option TelemetryOption) error {
	if !option.Valid() {
		return fmt.Errorf("onboard: unknown telemetry option %q", option)
	}
	t.mu.Lock()
	t.option = option
	t.mu.Unlock()
	if t.store == nil {
		return nil
	}
	if _, err := t.store.Save(ctx, t.ref, option, state.Meta{}); err != nil {
		return fmt.Errorf("onboard: save telemetry preference: %w", err)
	}
	return nil
}

// Track emits event when sharing is enabled. It reports whether the event
// was handed to the emitter.
func (t *Telemetry) Track(ctx context.Context, event activity.Event) bool {
	if !t.Sharing() || !t.emitter.Enabled() {
		return false
	}
	if err := t.emitter.Emit(ctx, event); err != nil {
		t.logger.Warn("telemetry emit failed", slog.String("verb", event.Verb), logging.Error(err))
	}
	return true
}
