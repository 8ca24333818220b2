package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine configuration and resumable investigations",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "max resumable investigations to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	fmt.Printf("🔍 FraudLens Status\n")
	fmt.Printf("%s\n", strings.Repeat("═", 50))

	fmt.Printf("\n📋 Configuration:\n")
	fmt.Printf("  Mode: %s\n", cfg.Mode)
	fmt.Printf("  Warehouse: %s (batch %d, filter %s)\n",
		cfg.Warehouse.Provider, cfg.Warehouse.BatchSize, cfg.Warehouse.DecisionFilter)
	fmt.Printf("  Risk threshold: %.2f\n", cfg.Engine.RiskThreshold)
	fmt.Printf("  Recursion limit: %d\n", cfg.Engine.RecursionLimit)
	fmt.Printf("  Workspace: %s\n", cfg.Workspace.Root)

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	fmt.Printf("\n🏥 Warehouse:\n")
	if err := d.gateway.Ping(ctx); err != nil {
		fmt.Printf("  Status: ❌ unreachable (%v)\n", err)
	} else {
		fmt.Printf("  Status: ✅ reachable\n")
	}

	fmt.Printf("\n⏸ Resumable investigations:\n")
	resumable, err := d.store.ListResumable(ctx, statusLimit)
	if err != nil {
		return err
	}
	if len(resumable) == 0 {
		fmt.Printf("  (none)\n")
		return nil
	}
	for _, inv := range resumable {
		fmt.Printf("  %s  %-12s  %d findings  updated %s\n",
			inv.ID, inv.Status, len(inv.Findings),
			inv.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("\n💡 Run 'flens resume <id>' to continue one\n")
	return nil
}
