package activity

import (
	"context"
	"testing"
)

func TestBuildLibraryCreateEvent(t *testing.T) {
	meta := map[string]any{"source": "onboarding"}
	event := BuildLibraryCreateEvent(LibraryEventInput{
		ActorID:   " actor ",
		LibraryID: " lib-1 ",
		Name:      " My Library ",
		Telemetry: "share-telemetry",
		Metadata:  meta,
	})

	if event.Verb != VerbLibraryCreate {
		t.Fatalf("expected verb %s got %s", VerbLibraryCreate, event.Verb)
	}
	if event.ObjectType != ObjectLibrary || event.ObjectID != "lib-1" {
		t.Fatalf("unexpected object fields: %+v", event)
	}
	if event.ActorID != "actor" {
		t.Fatalf("expected trimmed actor, got %q", event.ActorID)
	}
	if event.Metadata["name"] != "My Library" || event.Metadata["telemetry"] != "share-telemetry" {
		t.Fatalf("unexpected metadata %+v", event.Metadata)
	}
	event.Metadata["source"] = "changed"
	if meta["source"] != "onboarding" {
		t.Fatalf("expected input metadata untouched")
	}
}

func TestBuildOnboardingAbandonedEventFallsBackToObjectType(t *testing.T) {
	event := BuildOnboardingAbandonedEvent(LibraryEventInput{})
	if event.ObjectID != ObjectOnboarding {
		t.Fatalf("expected object id fallback, got %q", event.ObjectID)
	}
	if event.Metadata != nil {
		t.Fatalf("expected no metadata, got %+v", event.Metadata)
	}

	withFlow := BuildOnboardingAbandonedEvent(LibraryEventInput{FlowID: "flow-9"})
	if withFlow.ObjectID != "flow-9" || withFlow.Metadata["flow_id"] != "flow-9" {
		t.Fatalf("unexpected abandoned event %+v", withFlow)
	}
}

func TestEmitterAppliesDefaultChannel(t *testing.T) {
	capture := &CaptureHook{}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true})

	if err := emitter.Emit(context.Background(), BuildLibraryCreateEvent(LibraryEventInput{LibraryID: "lib-1"})); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(capture.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(capture.Events))
	}
	if capture.Events[0].Channel != DefaultChannel {
		t.Fatalf("expected default channel, got %q", capture.Events[0].Channel)
	}
}

func TestEmitterDisabledDoesNothing(t *testing.T) {
	capture := &CaptureHook{}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: false})
	if emitter.Enabled() {
		t.Fatalf("expected disabled emitter")
	}
	if err := emitter.Emit(context.Background(), BuildLibraryCreateEvent(LibraryEventInput{LibraryID: "lib-1"})); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(capture.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(capture.Events))
	}
}
