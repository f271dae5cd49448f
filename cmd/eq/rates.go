package main

import (
	"fmt"

	"github.com/fieldops/expenseq/internal/api"
	"github.com/fieldops/expenseq/internal/ui"
	"github.com/spf13/cobra"
)

var ratesRefresh bool

var ratesCmd = &cobra.Command{
	Use:     "rates",
	GroupID: "queue",
	Short:   "List cached billing rates",
	Long: `List the locally cached rate catalog.

With --refresh, fetch the catalog from the remote service first. Cached
rates are read-only; 'eq add' snapshots a rate's price into the draft at
creation time.`,
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

		if ratesRefresh {
			client := api.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
			rates, err := client.FetchRates(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch rates: %w", err)
			}
			if err := st.ReplaceRates(ctx, rates); err != nil {
				return err
			}
			fmt.Printf("%s Cached %d rate(s)\n", ui.RenderPass("✓"), len(rates))
		}

		rates, err := st.ListRates(ctx)
		if err != nil {
			return err
		}

		if len(rates) == 0 {
			fmt.Printf("%s No rates cached; run 'eq rates --refresh'\n", ui.RenderWarn("⚠"))
			return nil
		}

		fmt.Printf("\n%s %d rate(s)\n\n", ui.RenderAccent("▤"), len(rates))
		for _, r := range rates {
			fmt.Printf("  %-12s %-10s %s per %s  %s\n",
				r.ID, r.Type, r.Price, r.Unit, ui.RenderDim(r.Description))
		}
		fmt.Println()
		return nil
	},
}

var projectsCmd = &cobra.Command{
	Use:     "projects",
	GroupID: "queue",
	Short:   "List projects from the remote service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := api.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
		projects, err := client.FetchProjects(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch projects: %w", err)
		}

		fmt.Printf("\n%s %d project(s)\n\n", ui.RenderAccent("▤"), len(projects))
		for _, p := range projects {
			fmt.Printf("  %6d  %s\n", p.ID, p.Name)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	ratesCmd.Flags().BoolVar(&ratesRefresh, "refresh", false, "fetch the catalog from the remote service first")

	rootCmd.AddCommand(ratesCmd)
	rootCmd.AddCommand(projectsCmd)
}
