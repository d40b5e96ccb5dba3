package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/picklr-io/eksstack/internal/engine"
	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/logging"
	"github.com/picklr-io/eksstack/internal/state"
	"github.com/spf13/cobra"
)

var (
	applyAutoApprove bool
	applyTargets     []string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update the stack",
	Long: `Plans the changes needed to reach the declared stack and applies them.

Each resource's observed state is saved as soon as it finishes, so a failed
or interrupted run can be resumed by running apply again.`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringSliceVarP(&applyTargets, "target", "t", nil, "Limit apply to these resources and their dependencies")
}

// ErrFailedNodes is returned when apply finishes with failed resources.
var ErrFailedNodes = errors.New("one or more resources failed")

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	defer writeMetrics()

	settings, cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	eng, err := newEngine(ctx, settings)
	if err != nil {
		return err
	}

	return withLock(ctx, func(store *state.Store) error {
		plan, err := eng.CreatePlanWithTargets(ctx, cfg, store.Snapshot(), applyTargets)
		if err != nil {
			return fmt.Errorf("plan generation failed: %w", err)
		}

		if plan.HasChanges() {
			fmt.Fprintln(out, "eksstack will perform the following actions:")
			renderPlanChanges(out, plan)
			renderPlanSummary(out, plan)

			if !applyAutoApprove && !confirm(cmd.InOrStdin(), out, "Do you want to perform these actions?") {
				fmt.Fprintln(out, "Apply cancelled.")
				return nil
			}
			fmt.Fprintf(out, "\nApplying %d changes...\n", countChanges(plan))
		} else {
			fmt.Fprintln(out, "No changes. Infrastructure is up-to-date.")
		}

		p := &progress{w: out}
		report, applyErr := eng.ApplyPlanWithCallback(ctx, plan, store, p.event)
		if report == nil {
			return fmt.Errorf("apply failed: %w", applyErr)
		}

		outputs, resolveErr := engine.ResolveOutputs(cfg.Outputs, report, store)
		if resolveErr != nil {
			if applyErr == nil && len(applyTargets) == 0 {
				return fmt.Errorf("failed to resolve outputs: %w", resolveErr)
			}
			logging.Warn("some outputs are unresolved", "error", resolveErr)
		}
		if err := store.SetOutputs(ctx, outputs); err != nil {
			return fmt.Errorf("failed to save outputs: %w", err)
		}
		report.Outputs = outputs

		renderReport(out, report)
		renderOutputs(out, outputs)
		if err := failedErr(report); err != nil {
			return err
		}
		if applyErr != nil {
			return fmt.Errorf("apply failed: %w", applyErr)
		}
		return nil
	})
}

func failedErr(report *ir.Report) error {
	failed := report.Failed()
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for _, f := range failed {
		names = append(names, f.Address)
	}
	return fmt.Errorf("%w: %s", ErrFailedNodes, strings.Join(names, ", "))
}

// confirm asks a yes or no question on in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "\n%s (y/n): ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
