package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fieldops/expenseq/internal/trigger"
	"github.com/fieldops/expenseq/internal/ui"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Drains the spool directory and triggers a startup sync
  2. Watches the spool for new draft expense files and enqueues them
  3. Triggers a sync after every successful enqueue
  4. Re-triggers on a fixed interval

Draft files are {uniqueId}.json documents written by offline capture
tooling; processed files are archived under spool/processed/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		policy := newPolicy(cfg, st)

		dcfg := trigger.DefaultDaemonConfig()
		dcfg.SyncInterval = cfg.Daemon.SyncInterval
		dcfg.DebounceInterval = cfg.Daemon.Debounce
		dcfg.Logger = cfg.NewLogger("[daemon] ")

		d, err := trigger.NewDaemon(st, policy, cfg.SpoolDir, dcfg)
		if err != nil {
			return err
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Spool: %s\n", cfg.SpoolDir)
		fmt.Printf("   Database: %s\n", cfg.DBPath)
		fmt.Printf("   Interval: %v\n", dcfg.SyncInterval)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return d.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
