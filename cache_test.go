package onboard

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func libraryRecord(id, name string, created time.Time) Record {
	return Record{
		UUID:      id,
		Kind:      KindLibrary,
		CreatedAt: created,
		Fields:    map[string]any{"name": name},
	}
}

func TestNormalizedCacheMergeIsIdempotent(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []Record{
		libraryRecord("lib-1", "My Library", created),
		{UUID: "loc-1", Kind: "Location", Fields: map[string]any{"path": "/photos"}},
	}

	once := NewNormalizedCache()
	if err := once.MergeNodes(batch); err != nil {
		t.Fatalf("merge: %v", err)
	}
	twice := NewNormalizedCache()
	for i := 0; i < 2; i++ {
		if err := twice.MergeNodes(batch); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}
	if !reflect.DeepEqual(once.Snapshot(), twice.Snapshot()) {
		t.Fatalf("expected idempotent merge, got %+v vs %+v", once.Snapshot(), twice.Snapshot())
	}
	if once.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", once.Len())
	}
}

func TestNormalizedCacheMergeFieldsLastWriteWins(t *testing.T) {
	cache := NewNormalizedCache()
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := cache.MergeNodes([]Record{libraryRecord("lib-1", "Old", created)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	update := Record{UUID: "lib-1", Fields: map[string]any{"name": "New", "items": 3}, Refs: map[string]string{"owner": "user-1"}}
	if err := cache.MergeNodes([]Record{update}); err != nil {
		t.Fatalf("merge update: %v", err)
	}
	got, ok := cache.Lookup("lib-1")
	if !ok {
		t.Fatalf("expected record")
	}
	if got.String("name") != "New" || got.Fields["items"] != 3 {
		t.Fatalf("unexpected fields %+v", got.Fields)
	}
	if got.Kind != KindLibrary || !got.CreatedAt.Equal(created) {
		t.Fatalf("identity fields changed: %+v", got)
	}
	if id, ok := got.Ref("owner"); !ok || id != "user-1" {
		t.Fatalf("expected owner ref, got %q", id)
	}
}

func TestNormalizedCacheRejectsIdentityChange(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		incoming Record
		field    string
	}{
		{name: "kind", incoming: Record{UUID: "lib-1", Kind: "Location"}, field: "kind"},
		{name: "created", incoming: Record{UUID: "lib-1", CreatedAt: created.Add(time.Hour)}, field: "created_at"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := NewNormalizedCache()
			if err := cache.MergeNodes([]Record{libraryRecord("lib-1", "Lib", created)}); err != nil {
				t.Fatalf("seed: %v", err)
			}
			err := cache.MergeNodes([]Record{tc.incoming})
			if !errors.Is(err, ErrConsistencyViolation) {
				t.Fatalf("expected consistency violation, got %v", err)
			}
			var ce *ConsistencyError
			if !errors.As(err, &ce) || ce.Field != tc.field || ce.UUID != "lib-1" {
				t.Fatalf("unexpected error detail %+v", ce)
			}
			got, _ := cache.Lookup("lib-1")
			if got.Kind != KindLibrary || !got.CreatedAt.Equal(created) {
				t.Fatalf("record mutated after violation: %+v", got)
			}
		})
	}
}

func TestNormalizedCacheBatchIsAtomic(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := NewNormalizedCache()
	if err := cache.MergeNodes([]Record{libraryRecord("lib-1", "Lib", created)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := cache.MergeNodes([]Record{
		{UUID: "loc-1", Kind: "Location"},
		{UUID: "lib-1", Kind: "Location"},
	})
	if err == nil {
		t.Fatalf("expected violation")
	}
	if _, ok := cache.Lookup("loc-1"); ok {
		t.Fatalf("expected batch to be discarded")
	}

	if err := cache.MergeNodes([]Record{{UUID: "loc-2"}, {Kind: "Location"}}); !errors.Is(err, ErrMissingUUID) {
		t.Fatalf("expected ErrMissingUUID, got %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected cache untouched, got %d records", cache.Len())
	}
}

func TestNormalizedCacheStrictModePanics(t *testing.T) {
	cache := NewNormalizedCache(WithStrictConsistency(true))
	if err := cache.MergeNodes([]Record{{UUID: "lib-1", Kind: KindLibrary}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	defer func() {
		recovered := recover()
		err, ok := recovered.(error)
		if !ok || !errors.Is(err, ErrConsistencyViolation) {
			t.Fatalf("expected consistency panic, got %v", recovered)
		}
	}()
	_ = cache.MergeNodes([]Record{{UUID: "lib-1", Kind: "Location"}})
	t.Fatalf("expected panic")
}

func TestNormalizedCacheLookupReturnsCopy(t *testing.T) {
	cache := NewNormalizedCache()
	stored, err := cache.MergeRoot(Record{UUID: "lib-1", Kind: KindLibrary, Fields: map[string]any{"config": map[string]any{"name": "Lib"}}})
	if err != nil {
		t.Fatalf("merge root: %v", err)
	}
	stored.Fields["config"].(map[string]any)["name"] = "mutated"

	got, _ := cache.Lookup("lib-1")
	if got.String("config.name") != "Lib" {
		t.Fatalf("expected cached copy to be detached, got %v", got.Fields)
	}
	if _, ok := cache.Lookup("  "); ok {
		t.Fatalf("expected blank lookup to miss")
	}
}

func TestNormalizedCacheFollowAndEvict(t *testing.T) {
	cache := NewNormalizedCache()
	if err := cache.MergeNodes([]Record{
		{UUID: "loc-1", Kind: "Location", Fields: map[string]any{"path": "/photos"}},
		{UUID: "lib-1", Kind: KindLibrary, Refs: map[string]string{"location": "loc-1", "missing": "loc-9"}},
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	lib, _ := cache.Lookup("lib-1")
	loc, ok := cache.Follow(lib, "location")
	if !ok || loc.String("path") != "/photos" {
		t.Fatalf("expected location, got %+v", loc)
	}
	if _, ok := cache.Follow(lib, "missing"); ok {
		t.Fatalf("expected dangling ref to miss")
	}

	if !cache.Evict("loc-1") {
		t.Fatalf("expected evict to report existing record")
	}
	if cache.Evict("loc-1") {
		t.Fatalf("expected second evict to report false")
	}
	if _, ok := cache.Follow(lib, "location"); ok {
		t.Fatalf("expected evicted ref to miss")
	}
}
