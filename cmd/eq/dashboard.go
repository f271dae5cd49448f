package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fieldops/expenseq/internal/dashboard"
	"github.com/fieldops/expenseq/internal/engine"
	"github.com/fieldops/expenseq/internal/trigger"
	"github.com/fieldops/expenseq/internal/ui"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Run the daemon with a WebSocket dashboard",
	Long: `Run the sync daemon together with a WebSocket dashboard server.

The dashboard broadcasts queue statistics and sync completions to connected
clients, so a UI can keep its pending-expense view current without polling.

Endpoints: /ws (WebSocket feed), /health, / (info page).`,
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

		srv := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: cfg.NewLogger("[dashboard] "),
			StatsFunc: func(ctx context.Context) (*dashboard.StatsData, error) {
				stats, err := st.GetStats(ctx)
				if err != nil {
					return nil, err
				}
				return &dashboard.StatsData{
					Total:         stats.Total,
					ByStatus:      stats.ByStatus,
					TotalAttempts: stats.TotalAttempts,
					OldestPending: stats.OldestPending,
				}, nil
			},
		})

		policy := newPolicy(cfg, st)
		policy.OnSyncComplete = func(res *engine.Result) {
			srv.BroadcastSyncComplete(dashboard.SyncCompleteData{
				Submitted: res.Submitted,
				Synced:    res.Synced,
				Failed:    res.Failed,
				Duration:  res.Duration,
			})
		}

		dcfg := trigger.DefaultDaemonConfig()
		dcfg.SyncInterval = cfg.Daemon.SyncInterval
		dcfg.DebounceInterval = cfg.Daemon.Debounce
		dcfg.Logger = cfg.NewLogger("[daemon] ")

		d, err := trigger.NewDaemon(st, policy, cfg.SpoolDir, dcfg)
		if err != nil {
			return err
		}

		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()

		fmt.Printf("%s Dashboard listening on %s\n", ui.RenderAccent("📡"), srv.GetAddr())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return d.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
