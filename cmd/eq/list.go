package main

import (
	"fmt"

	"github.com/fieldops/expenseq/internal/ui"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "queue",
	Short:   "List pending expenses, oldest first",
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

		pending, err := st.GetPending(ctx)
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return nil
		}

		fmt.Printf("\n%s %d pending expense(s)\n\n", ui.RenderAccent("▤"), len(pending))
		for _, row := range pending {
			total := row.Price.Mul(row.Quantity)
			fmt.Printf("  #%d  %s  %s × %s = %s  project=%d rate=%s\n",
				row.ID, row.Description, row.Quantity, row.Price, total,
				row.ProjectID, row.RateID)
			detail := fmt.Sprintf("      queued %s", row.CreatedDate.Local().Format("2006-01-02 15:04:05"))
			if row.SyncAttempts > 0 {
				detail += fmt.Sprintf(", %d attempt(s)", row.SyncAttempts)
			}
			fmt.Println(ui.RenderDim(detail))
			if row.ErrorMessage != "" {
				fmt.Printf("      %s %s\n", ui.RenderFail("✗"), row.ErrorMessage)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
