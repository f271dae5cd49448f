package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/fieldops/expenseq/internal/ui"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "queue",
	Short:   "Inspect and maintain the expense queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue statistics",
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

		stats, err := st.GetStats(ctx)
		if err != nil {
			return err
		}
		version, err := st.SchemaVersion(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s Expense Queue Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Database: %s (schema v%d)\n", st.Path(), version)
		fmt.Printf("Queued: %d\n", stats.Total)
		for _, status := range sortedStatuses(stats.ByStatus) {
			fmt.Printf("  %s: %d\n", status, stats.ByStatus[status])
		}
		fmt.Printf("Total sync attempts: %d\n", stats.TotalAttempts)
		if stats.OldestPending != nil {
			fmt.Printf("Oldest pending: %s (%v ago)\n",
				stats.OldestPending.Local().Format("2006-01-02 15:04:05"),
				time.Since(*stats.OldestPending).Round(time.Second))
		}
		fmt.Println()
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove one unsynced expense from the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Remove(ctx, id); err != nil {
			return err
		}

		fmt.Printf("%s Removed expense %d\n", ui.RenderPass("✓"), id)
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every queued expense",
	Long: `Delete every row in the expense queue.

This is a development/support utility: unsynced expenses are lost for good.
Requires --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return fmt.Errorf("refusing to clear the queue without --force")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ClearAll(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s Cleared %d expense(s)\n", ui.RenderPass("✓"), n)
		return nil
	},
}

// sortedStatuses returns the status keys in stable order for display.
func sortedStatuses(byStatus map[string]int) []string {
	statuses := make([]string, 0, len(byStatus))
	for status := range byStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	return statuses
}

func init() {
	queueClearCmd.Flags().Bool("force", false, "confirm destructive clear")

	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
