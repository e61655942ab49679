// Package bridge is the in-process stand-in for the remote library service.
// It persists created libraries in a pkg/state store so the CLI can run the
// full onboarding flow without a server.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	onboard "github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/internal/logging"
	"github.com/goliatone/go-onboarding/pkg/state"
	"github.com/google/uuid"
)

// KindInstance is the kind of the node describing the local instance every
// library belongs to.
const KindInstance = "Instance"

// DefaultCatalogRef is where the library catalog is persisted.
var DefaultCatalogRef = state.Ref{Domain: "onboarding.libraries"}

// ErrNameRequired rejects creation requests without a usable name.
var ErrNameRequired = errors.New("bridge: library name is required")

// Catalog is the persisted set of libraries plus the instance node they
// reference.
type Catalog struct {
	Instance  onboard.Record   `json:"instance"`
	Libraries []onboard.Record `json:"libraries"`
}

// Validate implements the state resolver post-mutation check.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Libraries))
	for _, library := range c.Libraries {
		if library.UUID == "" {
			return fmt.Errorf("bridge: library without uuid")
		}
		if _, ok := seen[library.UUID]; ok {
			return fmt.Errorf("bridge: duplicate library %s", library.UUID)
		}
		seen[library.UUID] = struct{}{}
	}
	return nil
}

// Local implements onboard.LibraryCreator on top of a state store.
type Local struct {
	resolver state.Resolver[Catalog]
	ref      state.Ref
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// Option configures Local.
type Option func(*Local)

// WithCatalogRef overrides DefaultCatalogRef.
func WithCatalogRef(ref state.Ref) Option {
	return func(l *Local) {
		l.ref = ref
	}
}

// WithClock sets the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Local) {
		if now != nil {
			l.now = now
			l.resolver.Now = now
		}
	}
}

// WithIDGenerator sets the UUID source.
func WithIDGenerator(newID func() string) Option {
	return func(l *Local) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal builds a bridge persisting into store.
func NewLocal(store state.Store[Catalog], opts ...Option) (*Local, error) {
	if store == nil {
		return nil, errors.New("bridge: store is required")
	}
	l := &Local{
		resolver: state.Resolver[Catalog]{Store: store},
		ref:      DefaultCatalogRef,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = logging.NewComponentLogger(l.logger, "bridge")
	return l, nil
}

// CreateLibrary implements onboard.LibraryCreator. The created item
// references the instance node, which is returned alongside it.
func (l *Local) CreateLibrary(ctx context.Context, req onboard.CreateRequest) (onboard.CreateResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return onboard.CreateResult{}, ErrNameRequired
	}
	if err := ctx.Err(); err != nil {
		return onboard.CreateResult{}, err
	}

	var item onboard.Record
	catalog, _, err := l.resolver.Mutate(ctx, l.ref, state.Meta{}, func(catalog *Catalog) error {
		now := l.now()
		if catalog.Instance.UUID == "" {
			catalog.Instance = onboard.Record{
				UUID:      l.newID(),
				Kind:      KindInstance,
				CreatedAt: now,
				Fields:    map[string]any{"name": "local"},
			}
		}
		item = onboard.Record{
			UUID:      l.newID(),
			Kind:      onboard.KindLibrary,
			CreatedAt: now,
			Fields: map[string]any{
				"name":              name,
				"default_locations": req.DefaultLocations,
			},
			Refs: map[string]string{"instance": catalog.Instance.UUID},
		}
		catalog.Libraries = append(catalog.Libraries, item)
		return nil
	})
	if err != nil {
		return onboard.CreateResult{}, fmt.Errorf("bridge: create library: %w", err)
	}
	l.logger.Info("library created", slog.String(logging.FieldUUID, item.UUID), slog.String("name", name))
	return onboard.CreateResult{Item: item, Nodes: []onboard.Record{catalog.Instance}}, nil
}

// Fetch implements onboard.Fetcher: every persisted library in creation order.
func (l *Local) Fetch(ctx context.Context) ([]onboard.Record, error) {
	catalog, _, ok, err := l.resolver.Store.Load(ctx, l.ref)
	if err != nil {
		return nil, fmt.Errorf("bridge: load catalog: %w", err)
	}
	if !ok {
		return []onboard.Record{}, nil
	}
	return catalog.Libraries, nil
}

// Nodes returns the non-library records the libraries reference.
func (l *Local) Nodes(ctx context.Context) ([]onboard.Record, error) {
	catalog, _, ok, err := l.resolver.Store.Load(ctx, l.ref)
	if err != nil {
		return nil, fmt.Errorf("bridge: load catalog: %w", err)
	}
	if !ok || catalog.Instance.UUID == "" {
		return nil, nil
	}
	return []onboard.Record{catalog.Instance}, nil
}

var _ onboard.LibraryCreator = (*Local)(nil)
