package onboard

import (
	"strings"
	"sync"
	"time"
)

// QueryStatus describes the state of a cached query list.
type QueryStatus string

const (
	QueryAbsent QueryStatus = "absent"
	QueryReady  QueryStatus = "ready"
	QueryStale  QueryStatus = "stale"
)

// QueryData is a snapshot of one cached list. IDs reference records in the
// NormalizedCache rather than holding copies of them.
type QueryData struct {
	IDs       []string
	Status    QueryStatus
	UpdatedAt time.Time
}

type queryEntry struct {
	ids       []string
	status    QueryStatus
	updatedAt time.Time
	// pending holds optimistic inserts not yet confirmed by a fetch
	pending map[string]struct{}
}

// QueryClient is the query layer: cached, ordered UUID lists keyed by query
// key. Lists are deduplicated by UUID at every write.
type QueryClient struct {
	mu      sync.RWMutex
	entries map[string]*queryEntry
	nowFn   func() time.Time
}

// NewQueryClient constructs an empty query layer.
func NewQueryClient() *QueryClient {
	return &QueryClient{
		entries: make(map[string]*queryEntry),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// GetQueryData returns the cached list for key. ok is false while the list has
// never been populated.
func (q *QueryClient) GetQueryData(key string) (QueryData, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	entry, ok := q.entries[key]
	if !ok || entry.status == QueryAbsent {
		return QueryData{Status: QueryAbsent}, false
	}
	return QueryData{
		IDs:       append([]string(nil), entry.ids...),
		Status:    entry.status,
		UpdatedAt: entry.updatedAt,
	}, true
}

// SetQueryData replaces the list for key with the deduplicated result of fn.
// fn receives a copy of the previous list (nil when absent).
func (q *QueryClient) SetQueryData(key string, fn func(prev []string) []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := q.entry(key)
	next := fn(append([]string(nil), entry.ids...))
	entry.ids = dedupeIDs(next)
	entry.status = QueryReady
	entry.updatedAt = q.nowFn()
}

// Insert appends id to the list for key unless it is already present. The
// list is created when absent. The id is tracked as pending until a fetch
// result includes it.
func (q *QueryClient) Insert(key, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := q.entry(key)
	entry.ids = dedupeIDs(append(entry.ids, id))
	entry.pending[id] = struct{}{}
	entry.status = QueryReady
	entry.updatedAt = q.nowFn()
}

// MergeFetched reconciles a fetch result with the cached list. The fetch
// order wins; pending optimistic inserts missing from the result are kept at
// the end, and pending entries confirmed by the result are cleared.
func (q *QueryClient) MergeFetched(key string, fetched []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := q.entry(key)
	next := dedupeIDs(fetched)
	seen := make(map[string]struct{}, len(next))
	for _, id := range next {
		seen[id] = struct{}{}
		delete(entry.pending, id)
	}
	for _, id := range entry.ids {
		if _, ok := entry.pending[id]; !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		next = append(next, id)
	}
	entry.ids = next
	entry.status = QueryReady
	entry.updatedAt = q.nowFn()
}

// Invalidate marks the list for key as stale without dropping it.
func (q *QueryClient) Invalidate(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.entries[key]; ok && entry.status == QueryReady {
		entry.status = QueryStale
	}
}

func (q *QueryClient) entry(key string) *queryEntry {
	entry, ok := q.entries[key]
	if !ok {
		entry = &queryEntry{status: QueryAbsent, pending: map[string]struct{}{}}
		q.entries[key] = entry
	}
	return entry
}

func dedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
