package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
	"github.com/fraudlens/fraudlens/internal/orchestrator"
)

var (
	invEntities []string
	invFrom     string
	invTo       string
	invDays     int
	invUser     string
	invSerial   bool
)

var investigateCmd = &cobra.Command{
	Use:   "investigate",
	Short: "Run a fraud investigation against one or more entities",
	Long: `Investigate pulls the target's transactions, runs the domain analyzers
(device, network, location, logs, risk), aggregates an overall risk
score, and writes the report into the workspace.

Entities are given as type:value pairs, for example:

  flens investigate -e email:jane.doe@example.com
  flens investigate -e email:jane@x.com -e device:dev-1234 --days 30`,
	RunE: runInvestigate,
}

func init() {
	investigateCmd.Flags().StringArrayVarP(&invEntities, "entity", "e", nil, "target entity as type:value (repeatable, AND semantics)")
	investigateCmd.Flags().StringVar(&invFrom, "from", "", "window start (YYYY-MM-DD)")
	investigateCmd.Flags().StringVar(&invTo, "to", "", "window end, exclusive (YYYY-MM-DD)")
	investigateCmd.Flags().IntVar(&invDays, "days", 14, "window length in days ending now (ignored when --from is set)")
	investigateCmd.Flags().StringVar(&invUser, "user", "", "requesting analyst id")
	investigateCmd.Flags().BoolVar(&invSerial, "serial", false, "run analyzers sequentially")
	_ = investigateCmd.MarkFlagRequired("entity")
}

func runInvestigate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	window, err := resolveWindow()
	if err != nil {
		return err
	}

	req := orchestrator.Request{
		UserID: invUser,
		Window: window,
	}
	for _, raw := range invEntities {
		entityType, value, ok := strings.Cut(raw, ":")
		if !ok {
			return errors.Newf(errors.KindInvalidFormat,
				"entity %q is not type:value", raw)
		}
		req.Entities = append(req.Entities, orchestrator.RawEntity{
			Type:  models.EntityType(entityType),
			Value: value,
		})
	}
	if invSerial {
		serial := false
		req.Parallel = &serial
	}

	inv, err := orchestrator.NewInvestigation(cfg, req)
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	logger.WithField("id", inv.ID).Info("Starting investigation")
	if err := d.orch.Start(ctx, inv); err != nil {
		return err
	}

	printInvestigation(inv)
	return nil
}

func resolveWindow() (models.Window, error) {
	if invFrom == "" {
		end := time.Now().UTC()
		return models.Window{Start: end.AddDate(0, 0, -invDays), End: end}, nil
	}

	start, err := time.Parse("2006-01-02", invFrom)
	if err != nil {
		return models.Window{}, errors.Wrapf(err, errors.KindInvalidFormat, "invalid --from %q", invFrom)
	}
	end := time.Now().UTC()
	if invTo != "" {
		end, err = time.Parse("2006-01-02", invTo)
		if err != nil {
			return models.Window{}, errors.Wrapf(err, errors.KindInvalidFormat, "invalid --to %q", invTo)
		}
	}
	return models.Window{Start: start, End: end}, nil
}

func printInvestigation(inv *models.Investigation) {
	fmt.Printf("\n🔍 Investigation %s\n", inv.ID)
	fmt.Printf("%s\n", strings.Repeat("═", 60))
	fmt.Printf("Status: %s\n", inv.Status)
	if inv.Progress.OverallRiskScore != nil {
		fmt.Printf("Overall risk: %.2f (threshold %.2f)\n",
			*inv.Progress.OverallRiskScore, inv.Settings.RiskThreshold)
	}

	fmt.Printf("\nDomain findings:\n")
	for _, domain := range models.AllDomains {
		finding := inv.Findings[domain]
		if finding == nil {
			fmt.Printf("  %-10s (not run)\n", domain)
			continue
		}
		score := "  ⊥ "
		if finding.RiskScore != nil {
			score = fmt.Sprintf("%.2f", *finding.RiskScore)
		}
		fmt.Printf("  %-10s %s  confidence %.2f  %s\n",
			domain, score, finding.Confidence, finding.Narrative)
	}
	fmt.Printf("\nScored transactions: %d\n", len(inv.Progress.TransactionScores))
}
