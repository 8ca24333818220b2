// Package orchestrator drives an investigation through its execution
// graph: plan, dispatch, the five domain analyzers, aggregation,
// completion. State is checkpointed after every analyzer so a crashed
// or interrupted run resumes where it stopped instead of starting over.
package orchestrator

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fraudlens/fraudlens/internal/aggregate"
	"github.com/fraudlens/fraudlens/internal/analyzers"
	"github.com/fraudlens/fraudlens/internal/artifacts"
	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/logging"
	"github.com/fraudlens/fraudlens/internal/metrics"
	"github.com/fraudlens/fraudlens/internal/models"
	"github.com/fraudlens/fraudlens/internal/statestore"
	"github.com/fraudlens/fraudlens/internal/warehouse"
)

// node names the phases of the execution graph.
type node string

const (
	nodePlanner    node = "planner"
	nodeDispatch   node = "dispatch"
	nodeAggregate  node = "aggregate"
	nodeComplete   node = "complete"
	nodeDone       node = "done"
	plannerRetries      = 1
)

// Orchestrator executes investigations. One orchestrator serves many
// investigations; all per-run state lives in the run struct.
type Orchestrator struct {
	cfg       *config.Config
	store     statestore.Store
	gateway   warehouse.Gateway
	analyzers []analyzers.Analyzer
	artifacts *artifacts.Store
	logger    *slog.Logger
}

// New wires an orchestrator.
func New(cfg *config.Config, store statestore.Store, gateway warehouse.Gateway,
	set []analyzers.Analyzer, store2 *artifacts.Store) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		gateway:   gateway,
		analyzers: set,
		artifacts: store2,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// run carries the mutable state of one investigation execution.
type run struct {
	inv   *models.Investigation
	steps int
	limit int

	// plan is filled by the planner node.
	transactions []models.Transaction
	tenureDays   map[string]int

	// pending is filled by the dispatcher: domains still to analyze.
	pending []models.Domain

	mu sync.Mutex // guards inv mutation during parallel analysis
}

// step accounts one graph-node execution against the recursion limit.
func (r *run) step() error {
	r.steps++
	if r.steps > r.limit {
		return errors.Newf(errors.KindRecursionLimit,
			"investigation exceeded %d graph steps", r.limit)
	}
	return nil
}

// Start creates and executes a new investigation.
func (o *Orchestrator) Start(ctx context.Context, inv *models.Investigation) error {
	if err := o.store.Create(ctx, inv); err != nil {
		return err
	}
	return o.execute(ctx, inv)
}

// Resume reloads a non-terminal investigation and continues it.
// Domains that already carry findings are not re-analyzed.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*models.Investigation, error) {
	inv, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status.Terminal() {
		return nil, errors.Newf(errors.KindInvalidFormat,
			"investigation %s is %s and cannot be resumed", id, inv.Status)
	}
	o.logger.Info("resuming investigation", "id", id, "status", inv.Status)
	return inv, o.execute(ctx, inv)
}

// execute runs the graph to a terminal status. The returned error is
// nil for completed investigations; a failed investigation returns the
// cause after persisting the failure.
func (o *Orchestrator) execute(ctx context.Context, inv *models.Investigation) error {
	ctx = logging.WithInvestigation(ctx, inv.ID)

	invDir := o.artifacts.Workspace().InvestigationDir(inv.ID, inv.CreatedAt)
	logging.RegisterInvestigationLog(inv.ID, logging.NewInvestigationLog(invDir, inv.ID))
	defer func() {
		if err := logging.CloseInvestigationLog(inv.ID); err != nil {
			o.logger.Warn("failed to close investigation log", "id", inv.ID, "error", err)
		}
	}()

	timeout := o.cfg.Engine.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.InvestigationsStarted.WithLabelValues(string(o.cfg.Mode)).Inc()

	inv.Status = models.StatusInProgress
	if inv.Findings == nil {
		inv.Findings = make(models.DomainFindings)
	}
	if inv.Progress.TransactionScores == nil {
		inv.Progress.TransactionScores = make(map[string]float64)
	}
	if err := o.store.Save(ctx, inv); err != nil {
		return o.fail(inv, err)
	}

	r := &run{inv: inv, limit: inv.Settings.RecursionLimit}
	if r.limit <= 0 {
		r.limit = o.cfg.Engine.RecursionLimit
	}

	current := nodePlanner
	for current != nodeDone {
		if err := ctxError(ctx); err != nil {
			return o.fail(inv, err)
		}
		if err := r.step(); err != nil {
			return o.fail(inv, err)
		}

		next, err := o.runNode(ctx, r, current)
		if err != nil {
			return o.fail(inv, err)
		}
		inv.Progress.CurrentPhase = string(next)
		current = next
	}
	return nil
}

func (o *Orchestrator) runNode(ctx context.Context, r *run, current node) (node, error) {
	slog.InfoContext(ctx, "entering phase", "phase", current, "step", r.steps)

	switch current {
	case nodePlanner:
		if err := o.plan(ctx, r); err != nil {
			return "", err
		}
		return nodeDispatch, nil
	case nodeDispatch:
		o.dispatch(r)
		if len(r.pending) == 0 {
			return nodeAggregate, nil
		}
		if err := o.analyze(ctx, r); err != nil {
			return "", err
		}
		return nodeAggregate, nil
	case nodeAggregate:
		if err := o.aggregate(ctx, r); err != nil {
			return "", err
		}
		return nodeComplete, nil
	case nodeComplete:
		if err := o.complete(ctx, r); err != nil {
			return "", err
		}
		return nodeDone, nil
	default:
		return "", errors.Newf(errors.KindInternal, "unknown graph node %q", current)
	}
}

// plan gathers the transaction set. A transient warehouse read gets one
// retry before the failure is treated as fatal.
func (o *Orchestrator) plan(ctx context.Context, r *run) error {
	var err error
	for attempt := 0; attempt <= plannerRetries; attempt++ {
		if attempt > 0 {
			slog.WarnContext(ctx, "planner retrying after failure", "error", err)
			if err := r.step(); err != nil {
				return err
			}
		}
		r.transactions, err = o.gateway.Transactions(ctx, r.inv.Target(), r.inv.Window,
			config.DecisionFilterMode(r.inv.Settings.DecisionFilter))
		if err == nil {
			break
		}
		if errors.IsKind(err, errors.KindCancelled) || errors.IsKind(err, errors.KindTooManyRows) {
			return err
		}
	}
	if err != nil {
		return err
	}

	r.tenureDays = tenureFromHistory(r.transactions, r.inv.Window)
	slog.InfoContext(ctx, "plan complete",
		"transactions", len(r.transactions), "window", r.inv.Window.Label)
	return nil
}

// dispatch selects the domains that still need analysis. On a fresh run
// that is all of them; on resume, completed domains are skipped.
func (o *Orchestrator) dispatch(r *run) {
	r.pending = r.pending[:0]
	for _, a := range o.analyzers {
		if _, done := r.inv.Findings[a.Domain()]; done {
			continue
		}
		r.pending = append(r.pending, a.Domain())
	}
	o.logger.Info("dispatch", "investigation", r.inv.ID, "pending", len(r.pending))
}

// analyze runs the pending analyzers, checkpointing after each one. The
// parallel policy bounds concurrency to the configured pool size minus
// the connection reserved for checkpointing.
func (o *Orchestrator) analyze(ctx context.Context, r *run) error {
	pending := make(map[models.Domain]bool, len(r.pending))
	for _, d := range r.pending {
		pending[d] = true
	}

	input := analyzers.Input{
		Target:             primaryEntity(r.inv),
		Window:             r.inv.Window,
		Transactions:       r.transactions,
		CustomerTenureDays: r.tenureDays,
	}

	if !r.inv.Settings.Parallel {
		for _, a := range o.analyzers {
			if !pending[a.Domain()] {
				continue
			}
			if err := r.step(); err != nil {
				return err
			}
			if err := o.runAnalyzer(ctx, r, a, input); err != nil {
				return err
			}
		}
		return nil
	}

	sem := semaphore.NewWeighted(int64(o.cfg.AnalyzerConcurrency()))
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range o.analyzers {
		if !pending[a.Domain()] {
			continue
		}
		if err := r.step(); err != nil {
			return err
		}
		a := a
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return ctxError(gctx)
			}
			defer sem.Release(1)
			return o.runAnalyzer(gctx, r, a, input)
		})
	}
	return g.Wait()
}

// runAnalyzer executes one domain and checkpoints the outcome. A
// non-fatal analyzer error becomes a failure finding; fatal errors
// propagate and terminate the run.
func (o *Orchestrator) runAnalyzer(ctx context.Context, r *run, a analyzers.Analyzer, input analyzers.Input) error {
	domain := a.Domain()
	started := time.Now().UTC()
	slog.InfoContext(ctx, "analyzer starting", "domain", domain)

	result, err := a.Analyze(ctx, input)

	exec := models.ToolExecution{
		Tool:      fmt.Sprintf("analyze_%s", domain),
		Domain:    domain,
		StartedAt: started,
	}

	if err != nil {
		if cerr := ctxError(ctx); cerr != nil {
			return cerr
		}
		if errors.IsFatal(err) {
			slog.ErrorContext(ctx, "analyzer failed fatally", "domain", domain, "error", err)
			return err
		}
		slog.WarnContext(ctx, "analyzer failed; recording as evidence", "domain", domain, "error", err)
		result = analyzers.Result{Finding: analyzers.FailureFinding(domain, err)}
		exec.Outcome = "failed"
		exec.Detail = err.Error()
	} else {
		exec.Outcome = "succeeded"
	}
	exec.FinishedAt = time.Now().UTC()

	r.mu.Lock()
	finding := result.Finding
	r.inv.Findings[domain] = &finding
	r.inv.Progress.ToolExecutions = append(r.inv.Progress.ToolExecutions, exec)
	for txID, score := range result.TransactionScores {
		r.inv.Progress.TransactionScores[txID] = score
	}
	saveErr := o.store.Save(ctx, r.inv)
	r.mu.Unlock()

	if saveErr != nil {
		return errors.Wrapf(saveErr, errors.KindInternal,
			"failed to checkpoint after %s analyzer", domain)
	}
	metrics.ObserveAnalyzer(string(domain), exec.Outcome, exec.FinishedAt.Sub(started))
	slog.InfoContext(ctx, "analyzer finished", "domain", domain,
		"outcome", exec.Outcome, "duration", exec.FinishedAt.Sub(started))
	return nil
}

// aggregate folds the findings into the overall score.
func (o *Orchestrator) aggregate(ctx context.Context, r *run) error {
	agg := aggregate.New(aggregate.Options{
		MinScoredDomains: o.cfg.Engine.MinScoredDomains,
		MinEvidenceItems: o.cfg.Engine.MinEvidenceItems,
	})

	assessment := agg.Aggregate(r.inv.Findings, toolSuccessRatio(r.inv.Progress.ToolExecutions))

	r.inv.Progress.OverallRiskScore = assessment.OverallRiskScore
	if assessment.OverallRiskScore == nil {
		slog.WarnContext(ctx, "aggregation produced no overall score",
			"narrative", assessment.Narrative)
	} else {
		slog.InfoContext(ctx, "aggregation complete",
			"overall_risk", *assessment.OverallRiskScore,
			"confidence", assessment.Confidence,
			"narrative", assessment.Narrative)
	}
	return o.store.Save(ctx, r.inv)
}

// complete finalizes the investigation: status, artifacts, entity
// views, and the prediction write-back to the warehouse.
func (o *Orchestrator) complete(ctx context.Context, r *run) error {
	inv := r.inv
	inv.Status = models.StatusCompleted
	if err := o.store.Save(ctx, inv); err != nil {
		return err
	}

	canonical, err := o.artifacts.WriteCanonical(ctx, "report", inv, inv)
	if err != nil {
		return err
	}
	if err := o.artifacts.LinkEntityViews(ctx, inv, canonical); err != nil {
		return err
	}
	if _, err := o.artifacts.WriteHTMLReport(inv); err != nil {
		slog.WarnContext(ctx, "failed to write html report", "error", err)
	}

	if err := o.writePredictions(ctx, r); err != nil {
		return err
	}

	metrics.InvestigationsFinished.WithLabelValues(string(models.StatusCompleted), "").Inc()
	slog.InfoContext(ctx, "investigation completed",
		"id", inv.ID, "artifact", canonical, "steps", r.steps)
	return nil
}

// writePredictions upserts the per-transaction scores produced by the
// risk domain. Transactions the analysis never scored are not written.
func (o *Orchestrator) writePredictions(ctx context.Context, r *run) error {
	if len(r.inv.Progress.TransactionScores) == 0 {
		return nil
	}

	byID := make(map[string]models.Transaction, len(r.transactions))
	for _, tx := range r.transactions {
		byID[tx.TxID] = tx
	}

	target := primaryEntity(r.inv)
	now := time.Now().UTC()
	preds := make([]models.Prediction, 0, len(r.inv.Progress.TransactionScores))
	for txID, score := range r.inv.Progress.TransactionScores {
		tx, ok := byID[txID]
		if !ok {
			continue
		}
		label := 0
		if score >= r.inv.Settings.RiskThreshold {
			label = 1
		}
		preds = append(preds, models.Prediction{
			TxID:            txID,
			PredictedRisk:   score,
			PredictedLabel:  label,
			ModelVersion:    r.inv.Settings.ModelVersion,
			InvestigationID: r.inv.ID,
			EntityType:      string(target.Type),
			EntityID:        target.NormalizedValue,
			MerchantID:      tx.MerchantID,
			WindowStart:     r.inv.Window.Start,
			WindowEnd:       r.inv.Window.End,
			RiskThreshold:   r.inv.Settings.RiskThreshold,
			UpdatedAt:       now,
		})
	}
	return o.gateway.UpsertPredictions(ctx, preds)
}

// fail records the terminal failure. Cancellation discards partial
// findings: an interrupted analysis must not masquerade as a partial
// result set.
func (o *Orchestrator) fail(inv *models.Investigation, cause error) error {
	inv.Status = models.StatusFailed
	inv.FailCause = failCategory(cause)

	if errors.IsKind(cause, errors.KindCancelled) {
		inv.Findings = nil
		inv.Progress.TransactionScores = nil
		inv.Progress.OverallRiskScore = nil
	}

	// Persist with a fresh context: the run context is usually the
	// thing that just died.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.Save(saveCtx, inv); err != nil {
		o.logger.Error("failed to persist failure state",
			"id", inv.ID, "cause", inv.FailCause, "error", err)
	}

	metrics.InvestigationsFinished.WithLabelValues(string(models.StatusFailed), inv.FailCause).Inc()
	o.logger.Error("investigation failed", "id", inv.ID, "cause", inv.FailCause)
	return cause
}

func failCategory(err error) string {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Category()
	}
	return "INTERNAL"
}

// ctxError maps context termination onto the error taxonomy.
func ctxError(ctx context.Context) error {
	switch ctx.Err() {
	case context.Canceled:
		return errors.New(errors.KindCancelled, "investigation cancelled")
	case context.DeadlineExceeded:
		return errors.New(errors.KindTimeout, "investigation timed out")
	default:
		return nil
	}
}

// primaryEntity returns the first investigated entity; analyzers that
// need the full compound target receive the transactions, which were
// already selected by the compound predicate.
func primaryEntity(inv *models.Investigation) models.Entity {
	if len(inv.Entities) == 0 {
		return models.Entity{}
	}
	return inv.Entities[0]
}

// tenureFromHistory estimates account tenure per email from the
// earliest transaction observed relative to the window end.
func tenureFromHistory(txs []models.Transaction, w models.Window) map[string]int {
	earliest := make(map[string]time.Time)
	for _, tx := range txs {
		if tx.EmailNormalized == "" {
			continue
		}
		if first, ok := earliest[tx.EmailNormalized]; !ok || tx.Datetime.Before(first) {
			earliest[tx.EmailNormalized] = tx.Datetime
		}
	}
	out := make(map[string]int, len(earliest))
	for email, first := range earliest {
		out[email] = int(w.End.Sub(first).Hours() / 24)
	}
	return out
}

func toolSuccessRatio(execs []models.ToolExecution) float64 {
	if len(execs) == 0 {
		return 0
	}
	ok := 0
	for _, e := range execs {
		if e.Outcome == "succeeded" {
			ok++
		}
	}
	return float64(ok) / float64(len(execs))
}
