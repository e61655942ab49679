package onboard

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-onboarding/internal/logging"
)

// NormalizedCache is the single source of truth for entity records, keyed by
// UUID. It is constructed once at startup and shared by reference; readers may
// run concurrently while every merge is applied as one atomic section.
type NormalizedCache struct {
	mu      sync.RWMutex
	records map[string]Record
	strict  bool
	logger  *slog.Logger
	metrics *Metrics
}

// CacheOption configures a NormalizedCache.
type CacheOption func(*NormalizedCache)

// WithStrictConsistency makes consistency violations panic instead of being
// returned. Enable it in development builds.
func WithStrictConsistency(strict bool) CacheOption {
	return func(c *NormalizedCache) {
		c.strict = strict
	}
}

// WithCacheLogger attaches a logger to the cache.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *NormalizedCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheMetrics wires prometheus collectors into the cache.
func WithCacheMetrics(metrics *Metrics) CacheOption {
	return func(c *NormalizedCache) {
		c.metrics = metrics
	}
}

// NewNormalizedCache constructs an empty cache.
func NewNormalizedCache(opts ...CacheOption) *NormalizedCache {
	c := &NormalizedCache{
		records: make(map[string]Record),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = logging.NewComponentLogger(c.logger, "cache")
	return c
}

// MergeNodes inserts or overwrites every record by UUID. The batch is checked
// in full before anything is applied, so a violation leaves the cache
// untouched. Merging the same batch twice yields the same state as merging it
// once.
func (c *NormalizedCache) MergeNodes(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	staged := make(map[string]Record, len(records))
	for _, incoming := range records {
		id := strings.TrimSpace(incoming.UUID)
		if id == "" {
			c.metrics.observeMerge("rejected", len(records), len(c.records))
			return ErrMissingUUID
		}
		incoming.UUID = id

		current, ok := staged[id]
		if !ok {
			current, ok = c.records[id]
		}
		merged, err := mergeRecord(current, ok, incoming)
		if err != nil {
			c.metrics.observeMerge("violation", len(records), len(c.records))
			return c.violation(err)
		}
		staged[id] = merged
	}

	for id, record := range staged {
		c.records[id] = record
	}
	c.metrics.observeMerge("merged", len(records), len(c.records))
	c.logger.Debug("merged records", slog.Int("count", len(records)), slog.Int("size", len(c.records)))
	return nil
}

// MergeRoot merges a single root record and returns the canonical stored copy.
// Nested entities it references should be merged first via MergeNodes.
func (c *NormalizedCache) MergeRoot(record Record) (Record, error) {
	if err := c.MergeNodes([]Record{record}); err != nil {
		return Record{}, err
	}
	stored, _ := c.Lookup(record.UUID)
	return stored, nil
}

// Lookup returns the record stored under uuid. Absence is a normal state for
// entities that have not been synced yet or were evicted.
func (c *NormalizedCache) Lookup(uuid string) (Record, bool) {
	id := strings.TrimSpace(uuid)
	if id == "" {
		return Record{}, false
	}
	c.mu.RLock()
	record, ok := c.records[id]
	c.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return record.clone(), true
}

// Follow resolves the weak reference name held by record.
func (c *NormalizedCache) Follow(record Record, name string) (Record, bool) {
	id, ok := record.Ref(name)
	if !ok {
		return Record{}, false
	}
	return c.Lookup(id)
}

// Evict drops the record stored under uuid and reports whether it existed.
func (c *NormalizedCache) Evict(uuid string) bool {
	id := strings.TrimSpace(uuid)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[id]; !ok {
		return false
	}
	delete(c.records, id)
	c.metrics.observeSize(len(c.records))
	return true
}

// Len returns the number of cached records.
func (c *NormalizedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Snapshot returns copies of every record ordered by UUID.
func (c *NormalizedCache) Snapshot() []Record {
	c.mu.RLock()
	out := make([]Record, 0, len(c.records))
	for _, record := range c.records {
		out = append(out, record.clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

func (c *NormalizedCache) violation(err error) error {
	c.logger.Error("rejected merge", logging.Error(err))
	if c.strict {
		panic(err)
	}
	return err
}

func mergeRecord(existing Record, exists bool, incoming Record) (Record, error) {
	if !exists {
		return incoming.clone(), nil
	}
	if existing.Kind != "" && incoming.Kind != "" && existing.Kind != incoming.Kind {
		return Record{}, &ConsistencyError{UUID: existing.UUID, Field: "kind", Existing: existing.Kind, Incoming: incoming.Kind}
	}
	if !existing.CreatedAt.IsZero() && !incoming.CreatedAt.IsZero() && !existing.CreatedAt.Equal(incoming.CreatedAt) {
		return Record{}, &ConsistencyError{UUID: existing.UUID, Field: "created_at", Existing: existing.CreatedAt, Incoming: incoming.CreatedAt}
	}

	merged := existing.clone()
	if merged.Kind == "" {
		merged.Kind = incoming.Kind
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
	}
	if len(incoming.Fields) > 0 {
		if merged.Fields == nil {
			merged.Fields = make(map[string]any, len(incoming.Fields))
		}
		for key, value := range incoming.clone().Fields {
			merged.Fields[key] = value
		}
	}
	if len(incoming.Refs) > 0 {
		if merged.Refs == nil {
			merged.Refs = make(map[string]string, len(incoming.Refs))
		}
		for key, id := range incoming.Refs {
			merged.Refs[key] = id
		}
	}
	return merged, nil
}
