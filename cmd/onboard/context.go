package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	onboard "github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/internal/bridge"
	"github.com/goliatone/go-onboarding/internal/config"
	"github.com/goliatone/go-onboarding/internal/logging"
	"github.com/goliatone/go-onboarding/pkg/activity"
	"github.com/goliatone/go-onboarding/pkg/activity/usersink"
	"github.com/goliatone/go-onboarding/pkg/state"
	"github.com/goliatone/go-onboarding/pkg/state/pgstore"
	"github.com/goliatone/go-onboarding/pkg/state/sqlitestore"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// runtime is the fully wired onboarding stack for one command invocation.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	flow      *onboard.FlowController
	bridge    *bridge.Local
	navigator *lastDestination
	closers   []func() error
}

// lastDestination remembers where the flow navigated most recently.
type lastDestination struct {
	mu     sync.Mutex
	dest   onboard.Destination
	logger *slog.Logger
}

func (d *lastDestination) Navigate(dest onboard.Destination) {
	d.mu.Lock()
	d.dest = dest
	d.mu.Unlock()
	d.logger.Debug("navigate", slog.String(logging.FieldRoute, dest.Route), slog.String(logging.FieldUUID, dest.EntityID))
}

func (d *lastDestination) current() onboard.Destination {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dest
}

// activityLogSink is the go-users activity sink used by the CLI: records are
// written to the structured log.
type activityLogSink struct {
	logger *slog.Logger
}

func (s activityLogSink) Log(_ context.Context, record usertypes.ActivityRecord) error {
	s.logger.Info("activity",
		slog.String("verb", record.Verb),
		slog.String("object_type", record.ObjectType),
		slog.String("object_id", record.ObjectID),
		slog.String("channel", record.Channel),
		slog.Any("data", record.Data),
	)
	return nil
}

type stores struct {
	flow      state.Store[onboard.FlowState]
	telemetry state.Store[onboard.TelemetryOption]
	selection state.Store[string]
	catalog   state.Store[bridge.Catalog]
}

func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(ctx, rt)
}

func openRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (*runtime, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: logOut})
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		registry:  prometheus.NewRegistry(),
		navigator: &lastDestination{logger: logger},
	}

	st, err := rt.openStores(ctx)
	if err != nil {
		return nil, err
	}

	metrics, err := onboard.NewMetrics(rt.registry)
	if err != nil {
		rt.close()
		return nil, err
	}

	hooks := activity.Hooks{activity.HookFunc(func(_ context.Context, event activity.Event) error {
		logger.Debug("telemetry event", slog.String("verb", event.Verb), slog.String("object_id", event.ObjectID))
		return nil
	})}
	if cfg.Telemetry.UsersSink {
		hooks = append(hooks, usersink.Hook{Sink: activityLogSink{logger: logging.NewComponentLogger(logger, "activity")}})
	}
	emitter := activity.NewEmitter(hooks, activity.Config{Enabled: cfg.Telemetry.Enabled, Channel: cfg.Telemetry.Channel})

	telemetry, err := onboard.NewTelemetry(ctx,
		onboard.WithTelemetryStore(st.telemetry),
		onboard.WithTelemetryEmitter(emitter),
		onboard.WithTelemetryLogger(logger),
	)
	if err != nil {
		rt.close()
		return nil, err
	}
	selection, err := onboard.NewSelection(ctx, st.selection)
	if err != nil {
		rt.close()
		return nil, err
	}

	local, err := bridge.NewLocal(st.catalog, bridge.WithLogger(logger))
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.bridge = local

	cache := onboard.NewNormalizedCache(
		onboard.WithStrictConsistency(cfg.Flow.StrictCache),
		onboard.WithCacheLogger(logger),
		onboard.WithCacheMetrics(metrics),
	)
	libraries := onboard.NewLibraryStore(cache, onboard.NewQueryClient(),
		onboard.WithFetcher(local.Fetch),
		onboard.WithEntityStoreLogger(logger),
	)
	nodes, err := local.Nodes(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}
	if err := cache.MergeNodes(nodes); err != nil {
		rt.close()
		return nil, err
	}
	if err := libraries.Refetch(ctx); err != nil {
		rt.close()
		return nil, err
	}

	flow, err := onboard.NewFlowController(ctx, local,
		onboard.WithCache(cache),
		onboard.WithLibraryStore(libraries),
		onboard.WithNavigator(rt.navigator),
		onboard.WithTelemetry(telemetry),
		onboard.WithSelection(selection),
		onboard.WithMinDwell(cfg.MinDwell()),
		onboard.WithRuleEngine(onboard.RuleEngine(cfg.Flow.RuleEngine)),
		onboard.WithFlowLogger(logger),
		onboard.WithFlowMetrics(metrics),
		onboard.WithFailureNotifier(onboard.FailureNotifierFunc(func(_ context.Context, err error) {
			fmt.Fprintf(logOut, "Library creation failed: %v\n", err)
		})),
		onboard.WithOrchestratorOptions(onboard.WithFlowStore(st.flow)),
	)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.flow = flow
	return rt, nil
}

func (rt *runtime) openStores(ctx context.Context) (stores, error) {
	switch rt.cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := sqlitestore.Open(rt.cfg.Storage.Path)
		if err != nil {
			return stores{}, fmt.Errorf("open state database: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		return stores{
			flow:      sqlitestore.New[onboard.FlowState](db),
			telemetry: sqlitestore.New[onboard.TelemetryOption](db),
			selection: sqlitestore.New[string](db),
			catalog:   sqlitestore.New[bridge.Catalog](db),
		}, nil
	case config.DriverPostgres:
		db, err := pgstore.Open(ctx, rt.cfg.Storage.DSN)
		if err != nil {
			return stores{}, fmt.Errorf("open state database: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		return stores{
			flow:      pgstore.New[onboard.FlowState](db),
			telemetry: pgstore.New[onboard.TelemetryOption](db),
			selection: pgstore.New[string](db),
			catalog:   pgstore.New[bridge.Catalog](db),
		}, nil
	default:
		return stores{
			flow:      state.NewMemoryStore[onboard.FlowState](),
			telemetry: state.NewMemoryStore[onboard.TelemetryOption](),
			selection: state.NewMemoryStore[string](),
			catalog:   state.NewMemoryStore[bridge.Catalog](),
		}, nil
	}
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close failed", logging.Error(err))
		}
	}
	rt.closers = nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
