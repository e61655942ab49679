package onboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-onboarding/layering"
)

// Record is a server-identified entity cached client-side. UUID, Kind and
// CreatedAt form the record identity and never change once merged; Fields and
// Refs are mutable and merged last-write-wins.
type Record struct {
	UUID      string            `json:"uuid"`
	Kind      string            `json:"__type,omitempty"`
	CreatedAt time.Time         `json:"date_created,omitzero"`
	Fields    map[string]any    `json:"fields,omitempty"`
	Refs      map[string]string `json:"refs,omitempty"`
}

// Field returns the value stored under name. Dotted names walk nested maps,
// e.g. "config.name".
func (r Record) Field(name string) (any, bool) {
	if len(r.Fields) == 0 || name == "" {
		return nil, false
	}
	var current any = r.Fields
	for _, segment := range strings.Split(name, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String returns the field as a string, or "" when absent.
func (r Record) String(name string) string {
	value, ok := r.Field(name)
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Ref returns the UUID referenced under name.
func (r Record) Ref(name string) (string, bool) {
	id, ok := r.Refs[name]
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

func (r Record) clone() Record {
	out := r
	out.Fields = layering.Clone(r.Fields)
	if r.Refs != nil {
		out.Refs = make(map[string]string, len(r.Refs))
		for k, v := range r.Refs {
			out.Refs[k] = v
		}
	}
	return out
}

// CreateRequest is the payload sent to the remote library creation call.
// DefaultLocations is always encoded as null by the onboarding flow.
type CreateRequest struct {
	Name             string   `json:"name"`
	DefaultLocations []string `json:"default_locations"`
}

// CreateResult is the remote creation response: the created root entity plus
// every entity it referenced, merged into the cache as one batch.
type CreateResult struct {
	Item  Record   `json:"item"`
	Nodes []Record `json:"nodes"`
}

// Result is the settled outcome of the terminal action.
type Result struct {
	Payload CreateResult
	Err     error
}

// Success wraps a creation payload.
func Success(payload CreateResult) Result {
	return Result{Payload: payload}
}

// Failure wraps a creation error. A nil err is replaced so the result still
// reads as failed.
func Failure(err error) Result {
	if err == nil {
		err = ErrCreationFailed
	}
	return Result{Err: err}
}

// OK reports whether the terminal action succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Route names used by the onboarding flow.
const (
	RouteGetStarted = "GetStarted"
	RouteCreating   = "CreatingLibrary"
	RouteHome       = "Overview"
)

// Destination is a navigation target. EntityID is set when the target screen
// is scoped to a specific entity (the library home view).
type Destination struct {
	Route    string
	EntityID string
}

// Navigator moves the UI to a destination. Implementations must not block
// and must not call back into the FlowController.
type Navigator interface {
	Navigate(dest Destination)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(dest Destination)

// Navigate implements Navigator.
func (fn NavigatorFunc) Navigate(dest Destination) {
	if fn != nil {
		fn(dest)
	}
}

type noopNavigator struct{}

func (noopNavigator) Navigate(Destination) {}
