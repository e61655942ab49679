package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goliatone/go-onboarding/internal/logging"
)

const (
	// KindLibrary is the entity kind used for libraries.
	KindLibrary = "Library"
	// QueryLibraries is the query key of the cached library list.
	QueryLibraries = "library.list"
)

// Fetcher loads the full list of entities for one kind from the remote side.
type Fetcher func(ctx context.Context) ([]Record, error)

// EntityStore is a typed read-through projection over the NormalizedCache for
// a single entity kind. Its ordered list lives in the QueryClient as UUIDs, so
// every consumer reads the same merged record.
type EntityStore struct {
	kind    string
	key     string
	cache   *NormalizedCache
	queries *QueryClient
	fetch   Fetcher
	logger  *slog.Logger
}

// EntityStoreOption configures an EntityStore.
type EntityStoreOption func(*EntityStore)

// WithFetcher configures the remote list call used by Refetch.
func WithFetcher(fetch Fetcher) EntityStoreOption {
	return func(s *EntityStore) {
		s.fetch = fetch
	}
}

// WithQueryKey overrides the query key, which defaults to "<kind>.list".
func WithQueryKey(key string) EntityStoreOption {
	return func(s *EntityStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithEntityStoreLogger attaches a logger.
func WithEntityStoreLogger(logger *slog.Logger) EntityStoreOption {
	return func(s *EntityStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewEntityStore builds a projection for kind on top of cache and queries.
func NewEntityStore(kind string, cache *NormalizedCache, queries *QueryClient, opts ...EntityStoreOption) *EntityStore {
	if cache == nil {
		cache = NewNormalizedCache()
	}
	if queries == nil {
		queries = NewQueryClient()
	}
	s := &EntityStore{
		kind:    kind,
		key:     kind + ".list",
		cache:   cache,
		queries: queries,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = logging.NewComponentLogger(s.logger, "entity_store").With(slog.String("kind", kind))
	return s
}

// NewLibraryStore builds the library projection under QueryLibraries.
func NewLibraryStore(cache *NormalizedCache, queries *QueryClient, opts ...EntityStoreOption) *EntityStore {
	opts = append([]EntityStoreOption{WithQueryKey(QueryLibraries)}, opts...)
	return NewEntityStore(KindLibrary, cache, queries, opts...)
}

// Kind returns the projected entity kind.
func (s *EntityStore) Kind() string { return s.kind }

// List returns the cached list in order. ok is false before the first fetch or
// insert populated the list. Entries whose record is absent from the cache are
// skipped.
func (s *EntityStore) List() ([]Record, bool) {
	data, ok := s.queries.GetQueryData(s.key)
	if !ok {
		return nil, false
	}
	out := make([]Record, 0, len(data.IDs))
	for _, id := range data.IDs {
		record, ok := s.Get(id)
		if !ok {
			continue
		}
		out = append(out, record)
	}
	return out, true
}

// Get looks up one entity of this kind.
func (s *EntityStore) Get(uuid string) (Record, bool) {
	record, ok := s.cache.Lookup(uuid)
	if !ok {
		return Record{}, false
	}
	if record.Kind != "" && s.kind != "" && record.Kind != s.kind {
		return Record{}, false
	}
	return record, true
}

// InsertCreated publishes a newly created entity into the cached list without
// a refetch. The list is created when absent and never holds the same UUID
// twice, including after a later Refetch returns the entity too.
func (s *EntityStore) InsertCreated(record Record) error {
	stored, err := s.cache.MergeRoot(record)
	if err != nil {
		return fmt.Errorf("onboard: insert created %s: %w", s.kind, err)
	}
	s.queries.Insert(s.key, stored.UUID)
	s.logger.Debug("inserted created entity", slog.String(logging.FieldUUID, stored.UUID))
	return nil
}

// Refetch loads the list from the remote side, merges the records into the
// cache and reconciles the cached list.
func (s *EntityStore) Refetch(ctx context.Context) error {
	if s.fetch == nil {
		return errors.New("onboard: entity store fetcher not configured")
	}
	records, err := s.fetch(ctx)
	if err != nil {
		return fmt.Errorf("onboard: fetch %s list: %w", s.kind, err)
	}
	if err := s.cache.MergeNodes(records); err != nil {
		return err
	}
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.UUID)
	}
	s.queries.MergeFetched(s.key, ids)
	s.logger.Debug("refetched list", slog.Int("count", len(ids)))
	return nil
}

// Current returns the entity identified by selectedID, falling back to the
// first listed entity when the selection is empty or unknown.
func (s *EntityStore) Current(selectedID string) (Record, bool) {
	records, ok := s.List()
	if !ok || len(records) == 0 {
		return Record{}, false
	}
	for _, record := range records {
		if record.UUID == selectedID {
			return record, true
		}
	}
	return records[0], true
}
