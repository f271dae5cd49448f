package main

import (
	"fmt"
	"time"

	"github.com/fieldops/expenseq/internal/ui"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync all pending expenses now",
	Long: `Submit every pending expense to the remote service in one batch.

Accepted rows (including server-side duplicates) are removed from the queue;
rejected rows stay pending with the server's errors recorded, and are
retried on the next sync. A transport failure touches nothing locally.`,
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

		start := time.Now()
		res, ran, err := newPolicy(cfg, st).TriggerSync(ctx)
		if err != nil {
			return err
		}
		if !ran {
			fmt.Printf("%s Sync already running, skipped\n", ui.RenderWarn("⚠"))
			return nil
		}

		if res.Submitted == 0 {
			fmt.Printf("%s Nothing to sync\n", ui.RenderPass("✓"))
			return nil
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Submitted: %d\n", res.Submitted)
		fmt.Printf("   Synced: %d\n", res.Synced)
		if res.Failed > 0 {
			fmt.Printf("   %s Rejected: %d (kept for retry, see 'eq list')\n", ui.RenderWarn("⚠"), res.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
