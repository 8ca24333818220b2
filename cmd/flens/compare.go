package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fraudlens/fraudlens/internal/compare"
	"github.com/fraudlens/fraudlens/internal/entity"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// candidateLimit bounds how many completed investigations are offered
// to the engine as mapping candidates.
const candidateLimit = 50

var (
	cmpEntities   []string
	cmpRetroMonth int
	cmpJSON       bool
	cmpYAML       bool
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare fraud rates and score drift between two windows",
	Long: `Compare evaluates the target across a retrospective baseline window and
the recent fourteen days: fraud rates with confidence intervals, score
distribution drift (PSI, KS), and review-queue operating points.`,
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringArrayVarP(&cmpEntities, "entity", "e", nil, "target entity as type:value (repeatable, AND semantics)")
	compareCmd.Flags().IntVar(&cmpRetroMonth, "retro-months", 3, "how many months back the baseline window ends")
	compareCmd.Flags().BoolVar(&cmpJSON, "json", false, "emit the full report as JSON")
	compareCmd.Flags().BoolVar(&cmpYAML, "yaml", false, "emit the full report as YAML")
	_ = compareCmd.MarkFlagRequired("entity")
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := parseCompound(cmpEntities)
	if err != nil {
		return err
	}

	now := time.Now()
	windowB, err := compare.Recent14d(now)
	if err != nil {
		return err
	}
	windowA, err := compare.Retro(now, cmpRetroMonth, cfg.Engine.MaxLookbackMonths)
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	candidates, err := d.store.ListCompleted(ctx, candidateLimit)
	if err != nil {
		return err
	}

	engine := compare.NewEngine(d.gateway, d.joiner, cfg)
	report, err := engine.Compare(ctx, target, windowA, windowB, candidates)
	if err != nil {
		return err
	}

	artifactPath, err := d.artifacts.WriteComparison(ctx, uuid.NewString(), windowA, windowB, report)
	if err != nil {
		return err
	}

	if cmpJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	if cmpYAML {
		out, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}
	printReport(report)
	fmt.Printf("\nReport written to %s\n", artifactPath)
	return nil
}

// parseCompound builds the comparison target from repeated type:value
// flags. Values go through the normalizer so the predicate matches the
// canonical warehouse columns, same as investigation targets.
func parseCompound(raws []string) (models.CompoundEntity, error) {
	target := models.CompoundEntity{Op: models.CompoundAnd}
	for _, raw := range raws {
		entityType, value, ok := strings.Cut(raw, ":")
		if !ok {
			return target, errors.Newf(errors.KindInvalidFormat, "entity %q is not type:value", raw)
		}
		ent, err := entity.Normalize(models.EntityType(entityType), value)
		if err != nil {
			return target, err
		}
		target.Entities = append(target.Entities, ent)
	}
	return target, nil
}

func printReport(r *compare.Report) {
	fmt.Printf("\n📊 Window comparison\n")
	fmt.Printf("%s\n", strings.Repeat("═", 60))

	printWindow := func(name string, s compare.WindowStats) {
		warn := ""
		if s.WideCI {
			warn = "  ⚠ wide interval"
		}
		fmt.Printf("%s: %s to %s\n", name,
			s.Window.Start.Format("2006-01-02"), s.Window.End.Format("2006-01-02"))
		fmt.Printf("  transactions %d, labeled %d, fraud rate %.3f [%.3f, %.3f]%s\n",
			s.Transactions, s.Labeled, s.FraudRate, s.CILow, s.CIHigh, warn)
	}
	printWindow("Baseline (A)", r.WindowA)
	if r.WindowBEmpty {
		fmt.Printf("Recent (B): no transactions — partial report\n")
		return
	}
	printWindow("Recent (B)", r.WindowB)

	if r.AutoExpand != nil {
		fmt.Printf("\nBaseline auto-expanded to %d days (attempts: %v)\n",
			windowDaysOf(r.AutoExpand.Final), r.AutoExpand.AttemptDays)
	}

	fmt.Printf("\nDeltas (B−A): fraud rate %+.3f, mean score %+.3f, volume %+d\n",
		r.Deltas.FraudRate, r.Deltas.MeanScore, r.Deltas.Volume)
	fmt.Printf("Metric deltas (B−A): precision %+.3f, recall %+.3f, f1 %+.3f, accuracy %+.3f\n",
		r.Deltas.Precision, r.Deltas.Recall, r.Deltas.F1, r.Deltas.Accuracy)

	printEval := func(name string, ev *compare.WindowEvaluation) {
		if ev == nil {
			return
		}
		src := "warehouse scores"
		if ev.InvestigationID != "" {
			src = "investigation " + ev.InvestigationID
		}
		warn := ""
		if ev.Precision.WideCI || ev.Recall.WideCI {
			warn = "  ⚠ wide interval"
		}
		fmt.Printf("%s (%s): TP=%d FP=%d TN=%d FN=%d excluded=%d\n",
			name, src, ev.Matrix.TruePositive, ev.Matrix.FalsePositive,
			ev.Matrix.TrueNegative, ev.Matrix.FalseNegative, ev.Matrix.Excluded)
		fmt.Printf("  precision %.3f [%.3f, %.3f], recall %.3f [%.3f, %.3f], f1 %.3f%s\n",
			ev.Precision.Value, ev.Precision.CILow, ev.Precision.CIHigh,
			ev.Recall.Value, ev.Recall.CILow, ev.Recall.CIHigh, ev.F1, warn)
	}
	fmt.Println()
	printEval("Eval A", r.EvalA)
	printEval("Eval B", r.EvalB)
	if r.PSI != nil {
		fmt.Printf("PSI: %.3f\n", *r.PSI)
	}
	if r.KS != nil {
		fmt.Printf("KS: %.3f\n", *r.KS)
	}

	if len(r.PrecisionAtK) > 0 {
		fmt.Printf("\nPrecision@k:")
		for _, k := range []int{100, 500, 1000} {
			if v, ok := r.PrecisionAtK[k]; ok {
				fmt.Printf("  @%d=%.3f", k, v)
			}
		}
		fmt.Println()
	}
	if len(r.RecallAtBudget) > 0 {
		fmt.Printf("Recall@budget:")
		for _, b := range []int{50, 100, 150} {
			if v, ok := r.RecallAtBudget[b]; ok {
				fmt.Printf("  @%d=%.3f", b, v)
			}
		}
		fmt.Println()
	}

	if len(r.PerMerchant) > 0 {
		fmt.Printf("\nTop merchant movement:\n")
		for i, m := range r.PerMerchant {
			if i >= 5 {
				break
			}
			fmt.Printf("  %-16s rate %+.3f  volume %+d\n", m.MerchantID, m.RateDelta, m.VolumeDelta)
		}
	}
}

func windowDaysOf(w models.Window) int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}
