package onboard

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding/pkg/activity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingNavigator struct {
	mu    sync.Mutex
	dests []Destination
}

func (n *recordingNavigator) Navigate(dest Destination) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dests = append(n.dests, dest)
}

func (n *recordingNavigator) routes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.dests))
	for i, dest := range n.dests {
		out[i] = dest.Route
	}
	return out
}

func (n *recordingNavigator) last() Destination {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.dests) == 0 {
		return Destination{}
	}
	return n.dests[len(n.dests)-1]
}

func createdLibrary(name string) CreateResult {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return CreateResult{
		Item: Record{
			UUID:      "lib-1",
			Kind:      KindLibrary,
			CreatedAt: created,
			Fields:    map[string]any{"name": name},
			Refs:      map[string]string{"location": "loc-1"},
		},
		Nodes: []Record{{UUID: "loc-1", Kind: "Location", Fields: map[string]any{"path": "/photos"}}},
	}
}

type flowHarness struct {
	fc        *FlowController
	navigator *recordingNavigator
	capture   *activity.CaptureHook
	metrics   *Metrics
	requests  []CreateRequest
	mu        sync.Mutex
}

func newFlowHarness(t *testing.T, create func(ctx context.Context, req CreateRequest) (CreateResult, error), opts ...FlowOption) *flowHarness {
	t.Helper()
	ctx := context.Background()
	h := &flowHarness{
		navigator: &recordingNavigator{},
		capture:   &activity.CaptureHook{},
	}
	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	h.metrics = metrics
	emitter := activity.NewEmitter(activity.Hooks{h.capture}, activity.Config{Enabled: true})
	telemetry, err := NewTelemetry(ctx, WithTelemetryEmitter(emitter))
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	creator := LibraryCreatorFunc(func(ctx context.Context, req CreateRequest) (CreateResult, error) {
		h.mu.Lock()
		h.requests = append(h.requests, req)
		h.mu.Unlock()
		return create(ctx, req)
	})
	base := []FlowOption{
		WithNavigator(h.navigator),
		WithTelemetry(telemetry),
		WithFlowMetrics(metrics),
		WithMinDwell(0),
	}
	fc, err := NewFlowController(ctx, creator, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new flow controller: %v", err)
	}
	h.fc = fc
	return h
}

func (h *flowHarness) submitName(t *testing.T, name string) {
	t.Helper()
	result, err := h.fc.Submit(context.Background(), StepNewLibrary, map[string]any{"name": name})
	if err != nil {
		t.Fatalf("submit name: %v", err)
	}
	if result.Status != StatusAdvanced {
		t.Fatalf("expected advance, got %+v", result)
	}
}

func TestFlowControllerRequiresCreator(t *testing.T) {
	if _, err := NewFlowController(context.Background(), nil); err == nil {
		t.Fatalf("expected missing creator error")
	}
}

func TestFlowControllerCreatesLibrary(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return createdLibrary("My Library"), nil
	})
	ctx := context.Background()

	h.submitName(t, "  My Library ")
	result, err := h.fc.Submit(ctx, StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"})
	if err != nil {
		t.Fatalf("submit privacy: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completion, got %+v", result)
	}

	if len(h.requests) != 1 || h.requests[0].Name != "My Library" || h.requests[0].DefaultLocations != nil {
		t.Fatalf("unexpected create requests %+v", h.requests)
	}
	wantRoutes := []string{StepPrivacy, RouteCreating, RouteHome}
	if got := h.navigator.routes(); !reflect.DeepEqual(got, wantRoutes) {
		t.Fatalf("expected routes %v, got %v", wantRoutes, got)
	}
	if h.navigator.last().EntityID != "lib-1" {
		t.Fatalf("expected home scoped to lib-1, got %+v", h.navigator.last())
	}

	list, ok := h.fc.Libraries().List()
	if !ok || len(list) != 1 || list[0].UUID != "lib-1" {
		t.Fatalf("expected created library listed, got %+v", list)
	}
	current, ok := h.fc.CurrentLibrary()
	if !ok || current.UUID != "lib-1" || h.fc.Selection().ID() != "lib-1" {
		t.Fatalf("expected lib-1 selected, got %+v", current)
	}
	if _, ok := h.fc.cache.Follow(current, "location"); !ok {
		t.Fatalf("expected nested node merged")
	}

	flow := h.fc.Orchestrator().State()
	if len(flow.Steps) != 0 || flow.Current != StepNewLibrary {
		t.Fatalf("expected flow reset, got %+v", flow)
	}
	if !reflect.DeepEqual(h.capture.Verbs(), []string{activity.VerbLibraryCreate}) {
		t.Fatalf("expected libraryCreate event, got %v", h.capture.Verbs())
	}
	if got := testutil.ToFloat64(h.metrics.flowOutcomes.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected one success outcome, got %v", got)
	}
}

func TestFlowControllerMinimalTelemetrySkipsEvent(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return createdLibrary("abc"), nil
	})
	h.submitName(t, "abc")
	if _, err := h.fc.Submit(context.Background(), StepPrivacy, map[string]any{"shareTelemetry": "minimal-telemetry"}); err != nil {
		t.Fatalf("submit privacy: %v", err)
	}
	if len(h.capture.Events) != 0 {
		t.Fatalf("expected no events, got %v", h.capture.Verbs())
	}
	if h.fc.telemetry.Preference() != TelemetryMinimal {
		t.Fatalf("expected preference applied, got %s", h.fc.telemetry.Preference())
	}
}

func TestFlowControllerInvalidStepNavigatesBack(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		t.Fatalf("creator must not be called")
		return CreateResult{}, nil
	})
	result, err := h.fc.Submit(context.Background(), StepNewLibrary, map[string]any{"name": ""})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != StatusInvalid || result.Errors["name"] != "Name is required" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := h.navigator.routes(); !reflect.DeepEqual(got, []string{StepNewLibrary}) {
		t.Fatalf("expected navigation to the failing step, got %v", got)
	}
}

func TestFlowControllerFailureRollsBack(t *testing.T) {
	boom := errors.New("server unavailable")
	var notified error
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return CreateResult{}, boom
	}, WithFailureNotifier(FailureNotifierFunc(func(_ context.Context, err error) {
		notified = err
	})))
	ctx := context.Background()

	h.submitName(t, "abc")
	_, err := h.fc.Submit(ctx, StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"})
	if !errors.Is(err, ErrCreationFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped creation failure, got %v", err)
	}
	if !errors.Is(notified, boom) {
		t.Fatalf("expected notifier to receive the cause, got %v", notified)
	}
	if got := h.navigator.routes(); !reflect.DeepEqual(got, []string{StepPrivacy, RouteCreating, RouteGetStarted}) {
		t.Fatalf("unexpected routes %v", got)
	}
	flow := h.fc.Orchestrator().State()
	if len(flow.Steps) != 0 || flow.Current != StepNewLibrary {
		t.Fatalf("expected flow reset, got %+v", flow)
	}
	if _, ok := h.fc.Libraries().List(); ok {
		t.Fatalf("expected no library list after failure")
	}
	if len(h.capture.Events) != 0 {
		t.Fatalf("expected no events on failure, got %v", h.capture.Verbs())
	}
	if got := testutil.ToFloat64(h.metrics.flowOutcomes.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected one failure outcome, got %v", got)
	}
}

func TestFlowControllerResponseWithoutItemFails(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return CreateResult{}, nil
	})
	h.submitName(t, "abc")
	_, err := h.fc.Submit(context.Background(), StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"})
	if !errors.Is(err, ErrCreationFailed) {
		t.Fatalf("expected ErrCreationFailed, got %v", err)
	}
	if h.navigator.last().Route != RouteGetStarted {
		t.Fatalf("expected navigation to start, got %+v", h.navigator.last())
	}
}

func TestFlowControllerCacheViolationFails(t *testing.T) {
	cache := NewNormalizedCache()
	if err := cache.MergeNodes([]Record{{UUID: "loc-1", Kind: "Folder"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return createdLibrary("abc"), nil
	}, WithCache(cache))
	h.submitName(t, "abc")
	_, err := h.fc.Submit(context.Background(), StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"})
	if !errors.Is(err, ErrConsistencyViolation) {
		t.Fatalf("expected consistency violation, got %v", err)
	}
	if _, ok := cache.Lookup("lib-1"); ok {
		t.Fatalf("expected created item not merged")
	}
	if h.navigator.last().Route != RouteGetStarted {
		t.Fatalf("expected navigation to start, got %+v", h.navigator.last())
	}
}

func TestFlowControllerWaitsForDwell(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return createdLibrary("abc"), nil
	}, WithMinDwell(30*time.Millisecond))
	h.submitName(t, "abc")

	started := time.Now()
	if _, err := h.fc.Submit(context.Background(), StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 30*time.Millisecond {
		t.Fatalf("expected creating view to stay up at least 30ms, got %v", elapsed)
	}
}

func TestFlowControllerAwaitsDwellOnFailure(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return CreateResult{}, errors.New("fast failure")
	}, WithMinDwell(time.Second))

	var slept time.Duration
	h.fc.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	h.submitName(t, "abc")
	if _, err := h.fc.Submit(context.Background(), StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"}); err == nil {
		t.Fatalf("expected failure")
	}
	if slept != time.Second {
		t.Fatalf("expected dwell awaited with %v, got %v", time.Second, slept)
	}
}

func TestFlowControllerAbandonDiscardsLateResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		close(entered)
		<-release
		return createdLibrary("abc"), nil
	})
	ctx := context.Background()
	h.submitName(t, "abc")

	done := make(chan error, 1)
	go func() {
		_, err := h.fc.Submit(ctx, StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"})
		done <- err
	}()
	<-entered

	if err := h.fc.Abandon(ctx); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	close(release)
	if err := <-done; !errors.Is(err, ErrFlowAbandoned) {
		t.Fatalf("expected ErrFlowAbandoned, got %v", err)
	}

	if _, ok := h.fc.cache.Lookup("lib-1"); ok {
		t.Fatalf("late result must not be merged")
	}
	if h.fc.Selection().ID() != "" {
		t.Fatalf("late result must not change the selection")
	}
	if got := h.navigator.routes(); !reflect.DeepEqual(got, []string{StepPrivacy, RouteCreating, RouteGetStarted}) {
		t.Fatalf("expected abandon to leave the creating view once, got %v", got)
	}
	if !reflect.DeepEqual(h.capture.Verbs(), []string{activity.VerbOnboardingAbandoned}) {
		t.Fatalf("expected only the abandoned event, got %v", h.capture.Verbs())
	}
	if got := testutil.ToFloat64(h.metrics.flowOutcomes.WithLabelValues("abandoned")); got != 1 {
		t.Fatalf("expected one abandoned outcome, got %v", got)
	}
}

func TestFlowControllerAbandonWhileSettlingKeepsSelection(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return createdLibrary("abc"), nil
	})
	entered := make(chan struct{})
	release := make(chan struct{})
	var verbs []string
	var verbsMu sync.Mutex
	h.fc.telemetry.emitter = activity.NewEmitter(activity.Hooks{activity.HookFunc(func(_ context.Context, event activity.Event) error {
		verbsMu.Lock()
		verbs = append(verbs, event.Verb)
		verbsMu.Unlock()
		if event.Verb == activity.VerbLibraryCreate {
			close(entered)
			<-release
		}
		return nil
	})}, activity.Config{Enabled: true})
	ctx := context.Background()
	h.submitName(t, "abc")

	done := make(chan error, 1)
	go func() {
		_, err := h.fc.Submit(ctx, StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"})
		done <- err
	}()
	<-entered

	if err := h.fc.Abandon(ctx); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	close(release)
	if err := <-done; !errors.Is(err, ErrFlowAbandoned) {
		t.Fatalf("expected ErrFlowAbandoned, got %v", err)
	}

	if id := h.fc.Selection().ID(); id != "" {
		t.Fatalf("abandoned flow must not select, got %q", id)
	}
	if got := h.navigator.routes(); !reflect.DeepEqual(got, []string{StepPrivacy, RouteCreating, RouteGetStarted}) {
		t.Fatalf("abandoned flow must not navigate home, got %v", got)
	}
	if h.fc.Orchestrator().Current() != StepNewLibrary {
		t.Fatalf("expected flow reset, got %q", h.fc.Orchestrator().Current())
	}
	if _, ok := h.fc.cache.Lookup("lib-1"); !ok {
		t.Fatalf("created library should stay in the cache")
	}
	verbsMu.Lock()
	defer verbsMu.Unlock()
	if !reflect.DeepEqual(verbs, []string{activity.VerbLibraryCreate, activity.VerbOnboardingAbandoned}) {
		t.Fatalf("unexpected events %v", verbs)
	}
	if got := testutil.ToFloat64(h.metrics.flowOutcomes.WithLabelValues("abandoned")); got != 1 {
		t.Fatalf("expected one abandoned outcome, got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.flowOutcomes.WithLabelValues("success")); got != 0 {
		t.Fatalf("expected no success outcome, got %v", got)
	}
}

func TestFlowControllerAbandonAfterSuccessKeepsResult(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return createdLibrary("abc"), nil
	})
	ctx := context.Background()
	h.submitName(t, "abc")
	if _, err := h.fc.Submit(ctx, StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"}); err != nil {
		t.Fatalf("submit privacy: %v", err)
	}
	if err := h.fc.Abandon(ctx); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if h.fc.Selection().ID() != "lib-1" {
		t.Fatalf("expected selection kept, got %q", h.fc.Selection().ID())
	}
	if last := h.navigator.last(); last.Route != RouteHome || last.EntityID != "lib-1" {
		t.Fatalf("expected to stay on overview, got %v", h.navigator.routes())
	}
	if !reflect.DeepEqual(h.capture.Verbs(), []string{activity.VerbLibraryCreate}) {
		t.Fatalf("expected no abandoned event after success, got %v", h.capture.Verbs())
	}
}

func TestFlowControllerAbandonWhileIdleResets(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return createdLibrary("abc"), nil
	})
	h.submitName(t, "abc")
	if err := h.fc.Abandon(context.Background()); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if h.fc.Orchestrator().Current() != StepNewLibrary {
		t.Fatalf("expected flow reset")
	}
	if len(h.capture.Events) != 0 {
		t.Fatalf("expected no abandoned event without an in-flight creation")
	}
}

func TestFlowControllerPanicStillLeavesCreatingView(t *testing.T) {
	h := newFlowHarness(t, func(context.Context, CreateRequest) (CreateResult, error) {
		return createdLibrary("abc"), nil
	})
	h.fc.telemetry.emitter = activity.NewEmitter(activity.Hooks{activity.HookFunc(func(context.Context, activity.Event) error {
		panic("sink exploded")
	})}, activity.Config{Enabled: true})
	h.submitName(t, "abc")

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_, _ = h.fc.Submit(context.Background(), StepPrivacy, map[string]any{"shareTelemetry": "share-telemetry"})
	}()

	if h.navigator.last().Route != RouteGetStarted {
		t.Fatalf("expected navigation away from creating view, got %v", h.navigator.routes())
	}
	if _, err := h.fc.Submit(context.Background(), StepNewLibrary, map[string]any{"name": "abc"}); err != nil {
		t.Fatalf("submit guard must be released after panic, got %v", err)
	}
}
