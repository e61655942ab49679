package onboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-onboarding/pkg/state"
)

// DefaultSelectionRef is where the current library id is persisted.
var DefaultSelectionRef = state.Ref{Domain: "onboarding.selection"}

// Selection is the persisted pointer to the library the app is showing.
type Selection struct {
	mu    sync.RWMutex
	id    string
	store state.Store[string]
	ref   state.Ref
}

// NewSelection restores the pointer from store. A nil store keeps it in
// memory only.
func NewSelection(ctx context.Context, store state.Store[string]) (*Selection, error) {
	s := &Selection{store: store, ref: DefaultSelectionRef}
	if store == nil {
		return s, nil
	}
	id, _, ok, err := store.Load(ctx, s.ref)
	if err != nil {
		return nil, fmt.Errorf("onboard: load selection: %w", err)
	}
	if ok {
		s.id = id
	}
	return s, nil
}

// ID returns the selected id, which may be empty.
func (s *Selection) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Set replaces and persists the selected id.
func (s *Selection) Set(ctx context.Context, id string) error {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	if _, err := s.store.Save(ctx, s.ref, id, state.Meta{}); err != nil {
		return fmt.Errorf("onboard: save selection: %w", err)
	}
	return nil
}

// Clear removes the selection.
func (s *Selection) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, s.ref); err != nil {
		return fmt.Errorf("onboard: clear selection: %w", err)
	}
	return nil
}
