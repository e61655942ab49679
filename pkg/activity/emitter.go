package activity

import (
	"context"
	"strings"
	"time"
)

// DefaultChannel tags onboarding events that do not name a channel.
const DefaultChannel = "onboarding"

// Config carries the telemetry settings loaded from configuration.
type Config struct {
	Enabled bool
	Channel string
	// Now stamps events without an OccurredAt. Defaults to time.Now.
	Now func() time.Time
}

// Emitter routes onboarding events to its hooks when telemetry is on.
type Emitter struct {
	hooks   Hooks
	channel string
	now     func() time.Time
	on      bool
}

// NewEmitter builds an emitter. It is disabled when cfg.Enabled is false or
// no hook is registered.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	e := &Emitter{
		hooks:   hooks.compact(),
		channel: strings.TrimSpace(cfg.Channel),
		now:     cfg.Now,
	}
	if e.channel == "" {
		e.channel = DefaultChannel
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.on = cfg.Enabled && len(e.hooks) > 0
	return e
}

// Enabled reports whether Emit will reach any hook.
func (e *Emitter) Enabled() bool {
	return e != nil && e.on
}

// Channel returns the channel applied to untagged events.
func (e *Emitter) Channel() string {
	if e == nil {
		return DefaultChannel
	}
	return e.channel
}

// Emit stamps the channel and timestamp, then notifies every hook.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	event = event.Normalize(e.now())
	if event.Channel == "" {
		event.Channel = e.channel
	}
	return e.hooks.Notify(ctx, event)
}
