package cli

import (
	"fmt"

	"github.com/picklr-io/eksstack/internal/state"
	"github.com/spf13/cobra"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Destroys every resource recorded in the state, dependents first.

This command is the inverse of 'eksstack apply'. Resources that fail to delete
stay in the state so destroy can be run again.`,
	Args: cobra.NoArgs,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
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
		plan, err := eng.CreateDestroyPlan(ctx, cfg, store.Snapshot())
		if err != nil {
			return fmt.Errorf("destroy plan failed: %w", err)
		}
		if !plan.HasChanges() {
			fmt.Fprintln(out, "No resources to destroy.")
			return nil
		}

		renderPlanChanges(out, plan)
		renderPlanSummary(out, plan)
		if !destroyAutoApprove && !confirm(cmd.InOrStdin(), out, "Do you really want to destroy all resources?") {
			fmt.Fprintln(out, "Destroy cancelled.")
			return nil
		}

		p := &progress{w: out}
		report, applyErr := eng.ApplyPlanWithCallback(ctx, plan, store, p.event)
		if report == nil {
			return fmt.Errorf("destroy failed: %w", applyErr)
		}
		renderReport(out, report)
		if err := failedErr(report); err != nil {
			return err
		}
		if applyErr != nil {
			return fmt.Errorf("destroy failed: %w", applyErr)
		}

		if err := store.SetOutputs(ctx, nil); err != nil {
			return fmt.Errorf("failed to clear outputs: %w", err)
		}
		fmt.Fprintln(out, "\nDestroy complete! All resources have been deleted.")
		return nil
	})
}
