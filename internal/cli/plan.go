package cli

import (
	"fmt"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/state"
	"github.com/spf13/cobra"
)

var planTargets []string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the changes apply would make",
	Long: `Refreshes the observed state and shows what apply would do to reach the
declared stack:

  + resources to be created
  ~ resources to be updated in place
  -/+ resources to be replaced
  - resources to be destroyed`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringSliceVarP(&planTargets, "target", "t", nil, "Limit the plan to these resources and their dependencies")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	settings, cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	eng, err := newEngine(ctx, settings)
	if err != nil {
		return err
	}
	backend, err := openBackend(ctx)
	if err != nil {
		return err
	}
	store, err := state.Open(ctx, backend)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	plan, err := eng.CreatePlanWithTargets(ctx, cfg, store.Snapshot(), planTargets)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}
	if !plan.HasChanges() {
		fmt.Fprintln(out, "No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Fprintln(out, "eksstack will perform the following actions:")
	renderPlanChanges(out, plan)
	renderPlanSummary(out, plan)
	return nil
}

// countChanges returns how many planned changes are not noops.
func countChanges(plan *ir.Plan) int {
	n := 0
	for _, c := range plan.Changes {
		if c.Action != ir.ActionNoop {
			n++
		}
	}
	return n
}
