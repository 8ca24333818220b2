package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <investigation-id>",
	Short: "Resume an interrupted investigation",
	Long: `Resume reloads a pending or in-progress investigation from the state
store and continues it. Domains that already completed are not re-run.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	inv, err := d.orch.Resume(ctx, args[0])
	if err != nil {
		return err
	}

	printInvestigation(inv)
	return nil
}
