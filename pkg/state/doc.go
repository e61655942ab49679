// Package state defines the persistence contract behind onboarding flow state,
// the current-selection pointer and locally created libraries.
//
//   - Store[T] loads, saves and deletes a single snapshot for a single Ref.
//   - Resolver[T] layers a persisted snapshot over defaults and performs
//     etag-guarded read-modify-write updates.
//   - MemoryStore is the in-process implementation; sqlitestore and pgstore
//     persist the same snapshots as JSON rows.
//
// Deterministic keys:
//
//	Ref.Identifier() returns "<domain>/<key>", with an empty key mapped to
//	DefaultKey. SQL stores use it as their primary key.
package state
