package main

import (
	"context"
	"fmt"

	"github.com/fieldops/expenseq/internal/api"
	"github.com/fieldops/expenseq/internal/config"
	"github.com/fieldops/expenseq/internal/engine"
	"github.com/fieldops/expenseq/internal/store"
	"github.com/fieldops/expenseq/internal/trigger"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:   "eq",
	Short: "Offline field-expense queue",
	Long: `eq keeps field expenses in a durable local queue and reconciles them
against the remote expense service when connectivity allows.

Drafts are enqueued locally (no network needed) and synced in batches; the
client-generated uniqueId makes enqueue and submission idempotent on both
sides.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database file path (overrides config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "queue", Title: "Queue commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
	)
}

// loadConfig resolves the effective configuration for this invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	return cfg, nil
}

// openStore opens the database and brings the schema up to date. Migration
// failure is fatal to the invocation, mirroring app-startup semantics.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, nil
}

// newPolicy wires store, client and engine into a trigger policy.
func newPolicy(cfg *config.Config, st *store.Store) *trigger.Policy {
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
	eng := engine.New(st, client, cfg.NewLogger("[engine] "))
	return trigger.NewPolicy(eng, cfg.NewLogger("[trigger] "))
}
