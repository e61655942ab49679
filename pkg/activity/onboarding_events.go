package activity

import (
	"strings"
	"time"
)

const (
	// VerbLibraryCreate is emitted once a library created during onboarding
	// has been merged locally.
	VerbLibraryCreate = "libraryCreate"
	// VerbOnboardingAbandoned is emitted when an in-flight creation is abandoned.
	VerbOnboardingAbandoned = "onboarding.abandoned"

	ObjectLibrary    = "library"
	ObjectOnboarding = "onboarding"
)

// LibraryEventInput describes the fields shared by onboarding events.
type LibraryEventInput struct {
	ActorID    string
	UserID     string
	TenantID   string
	LibraryID  string
	Name       string
	FlowID     string
	Channel    string
	Telemetry  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildLibraryCreateEvent constructs the event for a created library.
func BuildLibraryCreateEvent(input LibraryEventInput) Event {
	return buildOnboardingEvent(VerbLibraryCreate, ObjectLibrary, strings.TrimSpace(input.LibraryID), input)
}

// BuildOnboardingAbandonedEvent constructs the event for an abandoned flow.
// The object id is the flow id, falling back to the object type.
func BuildOnboardingAbandonedEvent(input LibraryEventInput) Event {
	return buildOnboardingEvent(VerbOnboardingAbandoned, ObjectOnboarding, strings.TrimSpace(input.FlowID), input)
}

func buildOnboardingEvent(verb, objectType, objectID string, input LibraryEventInput) Event {
	metadata := copyMetadata(input.Metadata)
	if name := strings.TrimSpace(input.Name); name != "" {
		metadata = ensureMetadata(metadata)
		metadata["name"] = name
	}
	if input.Telemetry != "" {
		metadata = ensureMetadata(metadata)
		metadata["telemetry"] = input.Telemetry
	}
	if input.FlowID != "" {
		metadata = ensureMetadata(metadata)
		metadata["flow_id"] = input.FlowID
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
