package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-onboarding/internal/logging"
	"github.com/goliatone/go-onboarding/pkg/activity"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultMinDwell is how long the interim creating view stays up at least.
const DefaultMinDwell = 500 * time.Millisecond

// LibraryCreator performs the remote library creation call.
type LibraryCreator interface {
	CreateLibrary(ctx context.Context, req CreateRequest) (CreateResult, error)
}

// LibraryCreatorFunc adapts a function to LibraryCreator.
type LibraryCreatorFunc func(ctx context.Context, req CreateRequest) (CreateResult, error)

// CreateLibrary implements LibraryCreator.
func (fn LibraryCreatorFunc) CreateLibrary(ctx context.Context, req CreateRequest) (CreateResult, error) {
	return fn(ctx, req)
}

// FailureNotifier surfaces a failed creation to the user, e.g. as a toast.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, err error)
}

// FailureNotifierFunc adapts a function to FailureNotifier.
type FailureNotifierFunc func(ctx context.Context, err error)

// NotifyFailure implements FailureNotifier.
func (fn FailureNotifierFunc) NotifyFailure(ctx context.Context, err error) {
	if fn != nil {
		fn(ctx, err)
	}
}

// FlowController turns orchestrator outcomes into navigation and runs the
// terminal creation with its rollback.
type FlowController struct {
	orchestrator *StepFormOrchestrator
	cache        *NormalizedCache
	libraries    *EntityStore
	creator      LibraryCreator
	navigator    Navigator
	telemetry    *Telemetry
	selection    *Selection
	notifier     FailureNotifier
	minDwell     time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
	logger       *slog.Logger
	metrics      *Metrics

	schemas          *Schemas
	engine           RuleEngine
	orchestratorOpts []OrchestratorOption
	settleMu         sync.Mutex
	mu               sync.Mutex
	generation       uint64
	cancel           context.CancelFunc
	flowID           string
}

// FlowOption configures a FlowController.
type FlowOption func(*FlowController)

// WithSchemas replaces the default library step sequence.
func WithSchemas(schemas *Schemas) FlowOption {
	return func(fc *FlowController) {
		fc.schemas = schemas
	}
}

// WithRuleEngine selects the expression engine for the default library
// steps. It has no effect together with WithSchemas.
func WithRuleEngine(engine RuleEngine) FlowOption {
	return func(fc *FlowController) {
		fc.engine = engine
	}
}

// WithOrchestratorOptions forwards options to the underlying orchestrator,
// e.g. WithFlowStore. The terminal action is always owned by the controller.
func WithOrchestratorOptions(opts ...OrchestratorOption) FlowOption {
	return func(fc *FlowController) {
		fc.orchestratorOpts = append(fc.orchestratorOpts, opts...)
	}
}

// WithCache shares a NormalizedCache with other consumers.
func WithCache(cache *NormalizedCache) FlowOption {
	return func(fc *FlowController) {
		if cache != nil {
			fc.cache = cache
		}
	}
}

// WithLibraryStore shares the library projection with other consumers.
func WithLibraryStore(store *EntityStore) FlowOption {
	return func(fc *FlowController) {
		if store != nil {
			fc.libraries = store
		}
	}
}

// WithNavigator sets the navigation sink.
func WithNavigator(navigator Navigator) FlowOption {
	return func(fc *FlowController) {
		if navigator != nil {
			fc.navigator = navigator
		}
	}
}

// WithTelemetry sets the telemetry preference holder.
func WithTelemetry(telemetry *Telemetry) FlowOption {
	return func(fc *FlowController) {
		if telemetry != nil {
			fc.telemetry = telemetry
		}
	}
}

// WithSelection sets the current-library pointer.
func WithSelection(selection *Selection) FlowOption {
	return func(fc *FlowController) {
		if selection != nil {
			fc.selection = selection
		}
	}
}

// WithFailureNotifier sets the surface told about failed creations.
func WithFailureNotifier(notifier FailureNotifier) FlowOption {
	return func(fc *FlowController) {
		fc.notifier = notifier
	}
}

// WithMinDwell overrides DefaultMinDwell. Zero disables the dwell.
func WithMinDwell(d time.Duration) FlowOption {
	return func(fc *FlowController) {
		if d >= 0 {
			fc.minDwell = d
		}
	}
}

// WithFlowLogger attaches a logger.
func WithFlowLogger(logger *slog.Logger) FlowOption {
	return func(fc *FlowController) {
		if logger != nil {
			fc.logger = logger
		}
	}
}

// WithFlowMetrics records terminal outcomes and durations.
func WithFlowMetrics(metrics *Metrics) FlowOption {
	return func(fc *FlowController) {
		fc.metrics = metrics
	}
}

// NewFlowController wires the library creation flow around creator.
func NewFlowController(ctx context.Context, creator LibraryCreator, opts ...FlowOption) (*FlowController, error) {
	if creator == nil {
		return nil, errors.New("onboard: library creator is required")
	}
	fc := &FlowController{
		creator:   creator,
		navigator: noopNavigator{},
		minDwell:  DefaultMinDwell,
		sleep:     sleepContext,
		now:       time.Now,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(fc)
		}
	}
	fc.logger = logging.NewComponentLogger(fc.logger, "flow")
	if fc.cache == nil {
		fc.cache = NewNormalizedCache(WithCacheLogger(fc.logger), WithCacheMetrics(fc.metrics))
	}
	if fc.libraries == nil {
		fc.libraries = NewLibraryStore(fc.cache, nil, WithEntityStoreLogger(fc.logger))
	}
	if fc.telemetry == nil {
		telemetry, err := NewTelemetry(ctx, WithTelemetryLogger(fc.logger))
		if err != nil {
			return nil, err
		}
		fc.telemetry = telemetry
	}
	if fc.selection == nil {
		selection, err := NewSelection(ctx, nil)
		if err != nil {
			return nil, err
		}
		fc.selection = selection
	}
	if fc.schemas == nil {
		schemas, err := LibrarySchemasFor(fc.engine, WithRuleLogger(SlogEvaluatorLogger(fc.logger)))
		if err != nil {
			return nil, err
		}
		fc.schemas = schemas
	}

	orchestratorOpts := append([]OrchestratorOption{
		WithDefaultsResolver(LibraryDefaults),
		WithOrchestratorLogger(fc.logger),
		WithOrchestratorMetrics(fc.metrics),
	}, fc.orchestratorOpts...)
	orchestratorOpts = append(orchestratorOpts, WithTerminalAction(fc.complete))
	orchestrator, err := NewStepFormOrchestrator(ctx, fc.schemas, orchestratorOpts...)
	if err != nil {
		return nil, err
	}
	fc.orchestrator = orchestrator
	return fc, nil
}

// Orchestrator exposes the step orchestrator for reads (State, Defaults).
func (fc *FlowController) Orchestrator() *StepFormOrchestrator { return fc.orchestrator }

// Libraries exposes the library projection.
func (fc *FlowController) Libraries() *EntityStore { return fc.libraries }

// Selection exposes the current-library pointer.
func (fc *FlowController) Selection() *Selection { return fc.selection }

// CurrentLibrary returns the selected library, or the first one when the
// selection is empty or stale.
func (fc *FlowController) CurrentLibrary() (Record, bool) {
	return fc.libraries.Current(fc.selection.ID())
}

// Submit validates a step and navigates: forward on success, to the failing
// step on validation errors. The last step runs the creation; its failure is
// returned after the flow was rolled back and navigated to the start screen.
func (fc *FlowController) Submit(ctx context.Context, step string, raw map[string]any) (SubmitResult, error) {
	result, err := fc.orchestrator.Submit(ctx, step, raw)
	switch {
	case result.Status == StatusCompleted:
		return result, err
	case err != nil:
		return result, err
	case result.Status == StatusInvalid:
		fc.navigate(Destination{Route: result.Step})
	case result.Status == StatusAdvanced:
		fc.navigate(Destination{Route: result.Next})
	}
	return result, nil
}

// Abandon cancels an in-flight creation and clears flow state. A creation
// that settles afterwards changes neither flow state, selection nor
// navigation. When a creation was in flight Abandon navigates to the start
// screen itself; it waits for a creation that is already settling.
func (fc *FlowController) Abandon(ctx context.Context) error {
	fc.settleMu.Lock()
	fc.mu.Lock()
	fc.generation++
	cancel := fc.cancel
	flowID := fc.flowID
	fc.cancel = nil
	fc.mu.Unlock()
	fc.settleMu.Unlock()

	if cancel != nil {
		cancel()
		fc.telemetry.Track(ctx, activity.BuildOnboardingAbandonedEvent(activity.LibraryEventInput{FlowID: flowID}))
	}
	fc.logger.Info("onboarding abandoned", slog.String("flow_id", flowID))
	err := fc.orchestrator.Reset(ctx)
	if cancel != nil {
		fc.navigate(Destination{Route: RouteGetStarted})
	}
	return err
}

// complete is the orchestrator's terminal action.
func (fc *FlowController) complete(ctx context.Context, flow FlowState) (err error) {
	gen, runCtx, flowID := fc.begin(ctx)
	left := false
	defer func() {
		fc.end(gen)
		if !left {
			fc.navigate(Destination{Route: RouteGetStarted})
		}
	}()

	fc.navigate(Destination{Route: RouteCreating})

	library, err := DecodeStep[NewLibraryValues](flow, StepNewLibrary)
	if err != nil {
		left = true
		return fc.fail(ctx, err)
	}
	privacy, err := DecodeStep[PrivacyValues](flow, StepPrivacy)
	if err != nil {
		left = true
		return fc.fail(ctx, err)
	}
	if err := fc.telemetry.SetPreference(ctx, privacy.ShareTelemetry); err != nil {
		fc.logger.Warn("telemetry preference not saved", logging.Error(err))
	}

	started := fc.now()
	result := fc.create(runCtx, CreateRequest{Name: library.Name})
	elapsed := fc.now().Sub(started)

	if !fc.isCurrent(gen) {
		left = true
		return fc.discard(flowID, elapsed)
	}

	var item Record
	cause := result.Err
	if result.OK() {
		item, cause = fc.apply(ctx, result.Payload, library.Name, privacy.ShareTelemetry, flowID)
	}

	settled := fc.settle(gen, func() {
		left = true
		if cause != nil {
			fc.metrics.observeTerminal("failure", elapsed)
			err = fc.fail(ctx, cause)
			return
		}
		fc.metrics.observeTerminal("success", elapsed)
		if err := fc.orchestrator.Reset(ctx); err != nil {
			fc.logger.Warn("flow state not cleared", logging.Error(err))
		}
		if err := fc.selection.Set(ctx, item.UUID); err != nil {
			fc.logger.Warn("selection not saved", logging.Error(err))
		}
		fc.logger.Info("library created", slog.String(logging.FieldUUID, item.UUID))
		fc.navigate(Destination{Route: RouteHome, EntityID: item.UUID})
	})
	if !settled {
		left = true
		return fc.discard(flowID, elapsed)
	}
	return err
}

func (fc *FlowController) discard(flowID string, elapsed time.Duration) error {
	fc.logger.Info("discarding creation result of abandoned flow", slog.String("flow_id", flowID))
	fc.metrics.observeTerminal("abandoned", elapsed)
	return ErrFlowAbandoned
}

// create runs the remote call and the dwell timer and waits for both.
func (fc *FlowController) create(ctx context.Context, req CreateRequest) Result {
	var (
		g       errgroup.Group
		payload CreateResult
		callErr error
	)
	g.Go(func() error {
		payload, callErr = fc.creator.CreateLibrary(ctx, req)
		return nil
	})
	g.Go(func() error {
		_ = fc.sleep(ctx, fc.minDwell)
		return nil
	})
	_ = g.Wait()

	if callErr != nil {
		return Failure(callErr)
	}
	if payload.Item.UUID == "" {
		return Failure(fmt.Errorf("%w: response has no item", ErrCreationFailed))
	}
	return Success(payload)
}

// apply publishes a created library to the cache and the library list. The
// library exists remotely, so this runs even if the flow is abandoned later.
func (fc *FlowController) apply(ctx context.Context, payload CreateResult, name string, option TelemetryOption, flowID string) (Record, error) {
	if err := fc.cache.MergeNodes(payload.Nodes); err != nil {
		return Record{}, err
	}
	if err := fc.libraries.InsertCreated(payload.Item); err != nil {
		return Record{}, err
	}
	item, _ := fc.cache.Lookup(payload.Item.UUID)

	fc.telemetry.Track(ctx, activity.BuildLibraryCreateEvent(activity.LibraryEventInput{
		LibraryID: item.UUID,
		Name:      name,
		FlowID:    flowID,
		Telemetry: string(option),
	}))
	return item, nil
}

// settle runs fn as the outcome of run gen unless Abandon got there first.
// Abandon and settle exclude each other.
func (fc *FlowController) settle(gen uint64, fn func()) bool {
	fc.settleMu.Lock()
	defer fc.settleMu.Unlock()
	fc.mu.Lock()
	current := fc.generation == gen
	if current && fc.cancel != nil {
		fc.cancel()
		fc.cancel = nil
	}
	fc.mu.Unlock()
	if !current {
		return false
	}
	fn()
	return true
}

func (fc *FlowController) fail(ctx context.Context, cause error) error {
	fc.logger.Warn("library creation failed", logging.Error(cause))
	if err := fc.orchestrator.Reset(ctx); err != nil {
		fc.logger.Warn("flow state not cleared", logging.Error(err))
	}
	if fc.notifier != nil {
		fc.notifier.NotifyFailure(ctx, cause)
	}
	fc.navigate(Destination{Route: RouteGetStarted})
	if errors.Is(cause, ErrCreationFailed) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrCreationFailed, cause)
}

func (fc *FlowController) begin(ctx context.Context) (uint64, context.Context, string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.generation++
	runCtx, cancel := context.WithCancel(ctx)
	fc.cancel = cancel
	fc.flowID = uuid.NewString()
	return fc.generation, runCtx, fc.flowID
}

func (fc *FlowController) end(gen uint64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.generation == gen && fc.cancel != nil {
		fc.cancel()
		fc.cancel = nil
	}
}

func (fc *FlowController) isCurrent(gen uint64) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.generation == gen
}

func (fc *FlowController) navigate(dest Destination) {
	fc.logger.Debug("navigate", slog.String(logging.FieldRoute, dest.Route), slog.String(logging.FieldUUID, dest.EntityID))
	fc.navigator.Navigate(dest)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
