package main

import (
	"database/sql"
	"fmt"

	"github.com/fieldops/expenseq/internal/model"
	"github.com/fieldops/expenseq/internal/ui"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	addProject     int64
	addRate        string
	addQuantity    string
	addDescription string
	addActivity    string
	addMarkup      bool
	addNoSync      bool
)

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "queue",
	Short:   "Enqueue a new expense draft",
	Long: `Enqueue an expense against a cached rate.

The rate's price is snapshotted into the draft at creation time and never
changes afterward. The draft is persisted locally as pending; unless
--no-sync is given, a sync is triggered right after the insert (and skipped
if one is already running).

Run 'eq rates --refresh' first to populate the rate cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		rate, err := st.GetRate(ctx, addRate)
		if err == sql.ErrNoRows {
			return fmt.Errorf("rate %q not cached; run 'eq rates --refresh'", addRate)
		}
		if err != nil {
			return err
		}

		quantity, err := decimal.NewFromString(addQuantity)
		if err != nil {
			return fmt.Errorf("invalid quantity %q: %w", addQuantity, err)
		}

		draft := model.NewExpense(rate, addProject, quantity, addDescription, addActivity, addMarkup)
		inserted, err := st.InsertMany(ctx, []*model.Expense{draft})
		if err != nil {
			return err
		}
		if len(inserted) == 0 {
			// Unreachable with a fresh uniqueId, but keep the message honest.
			fmt.Printf("%s Draft already queued\n", ui.RenderWarn("⚠"))
			return nil
		}

		row := inserted[0]
		fmt.Printf("%s Queued expense %d: %s × %s @ %s (%s)\n",
			ui.RenderPass("✓"), row.ID, row.Description,
			row.Quantity, row.Price, ui.RenderDim(row.UniqueID))

		if addNoSync {
			return nil
		}

		res, ran, err := newPolicy(cfg, st).TriggerSync(ctx)
		if err != nil {
			fmt.Printf("%s Sync failed, expense stays queued: %v\n", ui.RenderWarn("⚠"), err)
			return nil
		}
		if ran {
			fmt.Printf("%s Synced %d, %d rejected\n", ui.RenderPass("✓"), res.Synced, res.Failed)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().Int64Var(&addProject, "project", 0, "project id (required)")
	addCmd.Flags().StringVar(&addRate, "rate", "", "rate id (required)")
	addCmd.Flags().StringVar(&addQuantity, "quantity", "", "quantity, e.g. 2.5 (required)")
	addCmd.Flags().StringVar(&addDescription, "description", "", "expense description (required)")
	addCmd.Flags().StringVar(&addActivity, "activity", "", "activity label")
	addCmd.Flags().BoolVar(&addMarkup, "markup", false, "apply markup")
	addCmd.Flags().BoolVar(&addNoSync, "no-sync", false, "enqueue only, do not trigger a sync")

	_ = addCmd.MarkFlagRequired("project")
	_ = addCmd.MarkFlagRequired("rate")
	_ = addCmd.MarkFlagRequired("quantity")
	_ = addCmd.MarkFlagRequired("description")

	rootCmd.AddCommand(addCmd)
}
