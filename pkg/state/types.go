package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrETagMismatch reports a write guarded by a stale etag.
	ErrETagMismatch = errors.New("state: etag mismatch")
	// ErrInvalidRef reports a Ref that cannot be turned into a storage key.
	ErrInvalidRef = errors.New("state: invalid ref")
)

// DefaultKey is used when a Ref omits its key.
const DefaultKey = "default"

// Ref identifies one persisted snapshot, e.g. the onboarding flow state of a
// single device or the current library selection.
type Ref struct {
	Domain string
	Key    string
}

// Meta is owned by the store side. ETag guards concurrent writers and
// Revision counts saves of the same Ref.
type Meta struct {
	ETag      string    `json:"etag,omitempty"`
	Revision  int64     `json:"revision,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Store loads, saves and deletes one snapshot per Ref. Implementations keep
// meta exactly as given.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
	Delete(ctx context.Context, ref Ref) error
}

// Mutator edits a snapshot in place. A nil snapshot pointer is never passed.
type Mutator[T any] func(*T) error

// Identifier returns the canonical storage key for r: "<domain>/<key>".
func (r Ref) Identifier() (string, error) {
	domain, key := strings.TrimSpace(r.Domain), strings.TrimSpace(r.Key)
	switch {
	case domain == "":
		return "", fmt.Errorf("%w: domain is required", ErrInvalidRef)
	case strings.Contains(domain, "/"):
		return "", fmt.Errorf("%w: domain %q must not contain '/'", ErrInvalidRef, domain)
	case key == "":
		key = DefaultKey
	}
	return domain + "/" + key, nil
}

func (r Ref) String() string {
	if id, err := r.Identifier(); err == nil {
		return id
	}
	return r.Domain + "/" + r.Key
}
