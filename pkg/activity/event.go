package activity

import (
	"maps"
	"strings"
	"time"
)

// Event is a single onboarding occurrence handed to hooks. Identifiers stay
// strings so callers do not need to agree on a UUID type.
type Event struct {
	Verb       string
	ActorID    string
	UserID     string
	TenantID   string
	ObjectType string
	ObjectID   string
	Channel    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// Routable reports whether the event names a verb and a target object.
// Hooks drop events that are not routable.
func (e Event) Routable() bool {
	return e.Verb != "" && e.ObjectType != "" && e.ObjectID != ""
}

// Normalize returns a trimmed copy of the event with its own metadata map.
// A zero OccurredAt is stamped with now.
func (e Event) Normalize(now time.Time) Event {
	for _, field := range []*string{&e.Verb, &e.ActorID, &e.UserID, &e.TenantID, &e.ObjectType, &e.ObjectID, &e.Channel} {
		*field = strings.TrimSpace(*field)
	}
	e.Metadata = copyMetadata(e.Metadata)
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	return e
}

// NormalizeEvent normalizes the event against the wall clock.
func NormalizeEvent(event Event) Event {
	return event.Normalize(time.Now())
}

// Meta returns the metadata value stored under key as a string.
func (e Event) Meta(key string) string {
	if value, ok := e.Metadata[key].(string); ok {
		return value
	}
	return ""
}

func copyMetadata(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
