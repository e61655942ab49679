package onboard

import (
	"context"
	"testing"

	"github.com/goliatone/go-onboarding/pkg/state"
)

func TestSelectionPersists(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore[string]()
	selection, err := NewSelection(ctx, store)
	if err != nil {
		t.Fatalf("new selection: %v", err)
	}
	if selection.ID() != "" {
		t.Fatalf("expected empty selection, got %q", selection.ID())
	}
	if err := selection.Set(ctx, "lib-1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	restored, err := NewSelection(ctx, store)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ID() != "lib-1" {
		t.Fatalf("expected lib-1, got %q", restored.ID())
	}

	if err := restored.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if store.Len() != 0 || restored.ID() != "" {
		t.Fatalf("expected cleared selection")
	}
}

func TestSelectionWithoutStore(t *testing.T) {
	ctx := context.Background()
	selection, err := NewSelection(ctx, nil)
	if err != nil {
		t.Fatalf("new selection: %v", err)
	}
	if err := selection.Set(ctx, "lib-2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if selection.ID() != "lib-2" {
		t.Fatalf("expected in-memory selection, got %q", selection.ID())
	}
}
