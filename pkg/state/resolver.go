package state

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-onboarding/layering"
	"github.com/google/uuid"
)

// Resolver layers persisted snapshots over defaults and applies guarded
// read-modify-write updates.
type Resolver[T any] struct {
	Store Store[T]
	Now   func() time.Time
}

type validatable interface {
	Validate() error
}

// ResolveWithDefaults loads ref and layers it over defaults. Map keys present
// in the persisted snapshot win, nested maps merge, nil maps and pointers fall
// back to defaults. The returned bool reports whether a snapshot existed.
func (r Resolver[T]) ResolveWithDefaults(ctx context.Context, ref Ref, defaults T) (T, Meta, bool, error) {
	if r.Store == nil {
		return defaults, Meta{}, false, fmt.Errorf("state: store is required")
	}
	snapshot, meta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return defaults, Meta{}, false, fmt.Errorf("state: load %s: %w", ref, err)
	}
	if !ok {
		return layering.Clone(defaults), Meta{}, false, nil
	}
	return layering.MergeLayers(snapshot, defaults), meta, true, nil
}

// Mutate loads one snapshot, applies fn, validates the result when it
// implements Validate() error, then saves it under a fresh etag and the next
// revision. A non-empty meta.ETag must match the stored etag.
func (r Resolver[T]) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator[T]) (T, Meta, error) {
	var zero T
	if r.Store == nil {
		return zero, Meta{}, fmt.Errorf("state: store is required")
	}
	if _, err := ref.Identifier(); err != nil {
		return zero, Meta{}, err
	}
	if fn == nil {
		return zero, Meta{}, fmt.Errorf("state: mutator is required")
	}

	snapshot, loadedMeta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return zero, Meta{}, fmt.Errorf("state: load %s: %w", ref, err)
	}
	if !ok {
		snapshot = zero
		loadedMeta = Meta{}
	}

	if meta.ETag != "" && loadedMeta.ETag != "" && meta.ETag != loadedMeta.ETag {
		return zero, loadedMeta, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, loadedMeta.ETag)
	}

	if err := fn(&snapshot); err != nil {
		return zero, loadedMeta, err
	}
	if err := validate(snapshot); err != nil {
		return zero, loadedMeta, err
	}

	saveMeta := Meta{
		ETag:      uuid.NewString(),
		Revision:  loadedMeta.Revision + 1,
		UpdatedAt: r.now(),
	}

	savedMeta, err := r.Store.Save(ctx, ref, snapshot, saveMeta)
	if err != nil {
		return zero, loadedMeta, fmt.Errorf("state: save %s: %w", ref, err)
	}
	return snapshot, savedMeta, nil
}

func (r Resolver[T]) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func validate(value any) error {
	if v, ok := value.(validatable); ok {
		return v.Validate()
	}
	return nil
}
