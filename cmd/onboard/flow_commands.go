package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	onboard "github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/internal/logging"
	"github.com/spf13/cobra"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var name string
	var telemetry string
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Run the whole onboarding flow for one library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *runtime) error {
				stop := rt.abandonOnCancel(runCtx)
				defer stop()

				out := cmd.OutOrStdout()
				steps := []struct {
					name   string
					values map[string]any
				}{
					{name: onboard.StepNewLibrary, values: map[string]any{"name": name}},
					{name: onboard.StepPrivacy, values: map[string]any{"shareTelemetry": telemetry}},
				}
				for _, step := range steps {
					result, err := rt.flow.Submit(runCtx, step.name, step.values)
					if err != nil {
						return describeFailure(err)
					}
					if result.Status == onboard.StatusInvalid {
						printFieldErrors(out, result)
						return fmt.Errorf("step %s has invalid input", result.Step)
					}
				}
				rt.printCreated(out)
				if showMetrics {
					return rt.printMetrics(out)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Library name")
	cmd.Flags().StringVar(&telemetry, "telemetry", string(onboard.TelemetryShare), "share-telemetry or minimal-telemetry")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print collected metrics after the flow")
	return cmd
}

func newStepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "step <name> [key=value...]",
		Short: "Submit one onboarding step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *runtime) error {
				stop := rt.abandonOnCancel(runCtx)
				defer stop()

				out := cmd.OutOrStdout()
				result, err := rt.flow.Submit(runCtx, args[0], values)
				if err != nil {
					return describeFailure(err)
				}
				switch result.Status {
				case onboard.StatusInvalid:
					printFieldErrors(out, result)
					return fmt.Errorf("step %s has invalid input", result.Step)
				case onboard.StatusAdvanced:
					fmt.Fprintf(out, "Saved %s; next step: %s\n", result.Step, result.Next)
				case onboard.StatusCompleted:
					rt.printCreated(out)
				}
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current onboarding step and saved values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *runtime) error {
				out := cmd.OutOrStdout()
				orchestrator := rt.flow.Orchestrator()
				flow := orchestrator.State()

				fmt.Fprintf(out, "Current step: %s\n", flow.Current)
				if current, ok := rt.flow.CurrentLibrary(); ok {
					fmt.Fprintf(out, "Current library: %s (%s)\n", current.String("name"), current.UUID)
				}

				rows := [][]string{}
				for _, step := range orchestrator.Schemas().Names() {
					values, err := orchestrator.Defaults(runCtx, step)
					if err != nil {
						return err
					}
					_, saved := flow.Steps[step]
					for _, field := range sortedKeys(values) {
						rows = append(rows, []string{step, field, fmt.Sprint(values[field]), yesNo(saved)})
					}
				}
				fmt.Fprintln(out, renderTable([]string{"Step", "Field", "Value", "Saved"}, rows, nil))
				return nil
			})
		},
	}
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard onboarding progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *runtime) error {
				if err := rt.flow.Abandon(runCtx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Onboarding progress cleared")
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				out := cmd.OutOrStdout()
				libraries, _ := rt.flow.Libraries().List()
				if len(libraries) == 0 {
					fmt.Fprintln(out, "No libraries yet. Run `onboard create --name <name>` to add one.")
					return nil
				}
				current, _ := rt.flow.CurrentLibrary()
				rows := make([][]string, 0, len(libraries))
				for _, library := range libraries {
					marker := ""
					if library.UUID == current.UUID {
						marker = "*"
					}
					rows = append(rows, []string{marker, library.UUID, library.String("name"), formatTime(library.CreatedAt)})
				}
				fmt.Fprintln(out, renderTable([]string{"", "UUID", "Name", "Created"}, rows, nil))
				return nil
			})
		},
	}
}

func newSelectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "select <uuid>",
		Short: "Make a library the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *runtime) error {
				library, ok := rt.flow.Libraries().Get(strings.TrimSpace(args[0]))
				if !ok {
					return fmt.Errorf("unknown library %q", args[0])
				}
				if err := rt.flow.Selection().Set(runCtx, library.UUID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Current library: %s (%s)\n", library.String("name"), library.UUID)
				return nil
			})
		},
	}
}

// abandonOnCancel abandons the flow when ctx is cancelled, e.g. on Ctrl-C
// while the library is being created.
func (rt *runtime) abandonOnCancel(ctx context.Context) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			if err := rt.flow.Abandon(context.WithoutCancel(ctx)); err != nil {
				rt.logger.Warn("abandon failed", logging.Error(err))
			}
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func describeFailure(err error) error {
	switch {
	case errors.Is(err, onboard.ErrFlowAbandoned):
		return context.Canceled
	case errors.Is(err, onboard.ErrCreationFailed):
		return fmt.Errorf("library was not created, onboarding restarted: %w", err)
	default:
		return err
	}
}

func (rt *runtime) printCreated(out io.Writer) {
	dest := rt.navigator.current()
	if dest.Route != onboard.RouteHome {
		return
	}
	library, ok := rt.flow.Libraries().Get(dest.EntityID)
	if !ok {
		return
	}
	fmt.Fprintf(out, "Created library %q (%s)\n", library.String("name"), library.UUID)
}

func (rt *runtime) printMetrics(out io.Writer) error {
	families, err := rt.registry.Gather()
	if err != nil {
		return err
	}
	rows := [][]string{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}
			value := ""
			switch {
			case metric.GetCounter() != nil:
				value = fmt.Sprint(metric.GetCounter().GetValue())
			case metric.GetGauge() != nil:
				value = fmt.Sprint(metric.GetGauge().GetValue())
			case metric.GetHistogram() != nil:
				value = fmt.Sprintf("count=%d", metric.GetHistogram().GetSampleCount())
			}
			rows = append(rows, []string{family.GetName(), strings.Join(labels, ","), value})
		}
	}
	fmt.Fprintln(out, renderTable([]string{"Metric", "Labels", "Value"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	return nil
}

func printFieldErrors(out io.Writer, result onboard.SubmitResult) {
	rows := make([][]string, 0, len(result.Errors))
	for _, field := range result.Errors.Fields() {
		label := field
		if label == onboard.FormError {
			label = "(form)"
		}
		rows = append(rows, []string{result.Step, label, result.Errors[field]})
	}
	fmt.Fprintln(out, renderTable([]string{"Step", "Field", "Problem"}, rows, nil))
}

func parseAssignments(args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		values[key] = value
	}
	return values, nil
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Local().Format("2006-01-02 15:04")
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
