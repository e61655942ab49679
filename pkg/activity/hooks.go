package activity

import (
	"context"
	"errors"
	"fmt"
)

// ActivityHook receives normalized onboarding events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc adapts a function to ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify calls fn.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks is an ordered set of hooks that all see the same event.
type Hooks []ActivityHook

// Enabled reports whether at least one non-nil hook is registered.
func (h Hooks) Enabled() bool {
	return len(h.compact()) > 0
}

// Notify normalizes the event once and hands it to every hook in order.
// A failing hook does not stop the ones after it; failures are joined and
// tagged with the hook position.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	event = NormalizeEvent(event)
	if !event.Routable() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("activity: hook %d %s: %w", i, event.Verb, err))
		}
	}
	return errors.Join(errs...)
}

func (h Hooks) compact() Hooks {
	var out Hooks
	for _, hook := range h {
		if hook != nil {
			out = append(out, hook)
		}
	}
	return out
}
