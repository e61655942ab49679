// Package usersink forwards onboarding activity into a go-users activity log.
package usersink

import (
	"context"

	"github.com/goliatone/go-onboarding/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook writes onboarding events to a go-users ActivitySink.
type Hook struct {
	Sink usertypes.ActivitySink
}

// Notify converts the event with Record and logs it. Unroutable events and a
// nil sink are ignored.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	record, ok := Record(event)
	if !ok {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Sink.Log(ctx, record)
}

// Record maps an onboarding event onto an ActivityRecord. Identifiers that
// are not UUIDs map to uuid.Nil. Record data is tagged with onboarding=true.
func Record(event activity.Event) (usertypes.ActivityRecord, bool) {
	event = activity.NormalizeEvent(event)
	if !event.Routable() {
		return usertypes.ActivityRecord{}, false
	}
	data := event.Metadata
	if data == nil {
		data = map[string]any{}
	}
	data["onboarding"] = true
	return usertypes.ActivityRecord{
		ActorID:    uuidOrNil(event.ActorID),
		UserID:     uuidOrNil(event.UserID),
		TenantID:   uuidOrNil(event.TenantID),
		Verb:       event.Verb,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Channel:    event.Channel,
		Data:       data,
		OccurredAt: event.OccurredAt,
	}, true
}

func uuidOrNil(value string) uuid.UUID {
	if value == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}
