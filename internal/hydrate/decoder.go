// Package hydrate turns persisted step payloads back into typed values.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Option adjusts how a step payload is decoded.
type Option func(*settings)

type settings struct {
	strict bool
}

// Strict rejects payload keys that T does not declare.
func Strict() Option {
	return func(s *settings) { s.strict = true }
}

// Step decodes the payload recorded for step into T. The payload is not
// modified. When T has a Validate method it runs on the decoded value.
func Step[T any](step string, payload map[string]any, opts ...Option) (T, error) {
	var out T
	if payload == nil {
		return out, fmt.Errorf("hydrate: step %q has no payload", step)
	}
	var cfg settings
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("hydrate: step %q: %w", step, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if cfg.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("hydrate: step %q: %w", step, err)
	}

	if v, ok := any(out).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return out, fmt.Errorf("hydrate: step %q: %w", step, err)
		}
	}
	return out, nil
}
