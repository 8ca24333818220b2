package orchestrator

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlens/fraudlens/internal/analyzers"
	"github.com/fraudlens/fraudlens/internal/artifacts"
	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/llm"
	"github.com/fraudlens/fraudlens/internal/models"
	"github.com/fraudlens/fraudlens/internal/statestore"
	"github.com/fraudlens/fraudlens/internal/warehouse"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode: config.ModeDemo,
		Warehouse: config.WarehouseConfig{
			BatchSize:      500,
			SafetyFactor:   2,
			DecisionFilter: config.FilterFinalized,
			PoolSize:       4,
		},
		Engine: config.EngineConfig{
			RiskThreshold:     0.3,
			MaxLookbackMonths: 6,
			RecursionLimit:    120,
			Timeout:           30 * time.Second,
			MinScoredDomains:  2,
			MinEvidenceItems:  1,
		},
	}
}

// harness bundles the orchestrator's collaborators, all in-memory.
type harness struct {
	cfg   *config.Config
	store *statestore.MemoryStore
	gw    *warehouse.MemoryGateway
	rep   *analyzers.StaticIPReputation
	siem  *analyzers.StaticSIEM
	llm   *llm.MockClient
	arts  *artifacts.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	return &harness{
		cfg:   cfg,
		store: statestore.NewMemoryStore(),
		gw:    warehouse.NewMemoryGateway(cfg.Warehouse),
		rep:   analyzers.NewStaticIPReputation(),
		siem:  analyzers.NewStaticSIEM(),
		llm:   llm.NewMockClient(),
		arts:  artifacts.NewStore(artifacts.NewWorkspace(t.TempDir()), nil),
	}
}

func (h *harness) analyzerSet() []analyzers.Analyzer {
	return analyzers.All(analyzers.Deps{
		Reputation: h.rep,
		SIEM:       h.siem,
		LLM:        h.llm,
	})
}

func (h *harness) orchestrator() *Orchestrator {
	return New(h.cfg, h.store, h.gw, h.analyzerSet(), h.arts)
}

func testWindow() models.Window {
	return models.Window{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		Label: "aug_1_14",
	}
}

// seedActivity loads a small but fully populated transaction history for
// the investigated email into the warehouse.
func seedActivity(gw *warehouse.MemoryGateway, w models.Window) {
	base := w.Start.Add(24 * time.Hour)
	for i, tx := range []models.Transaction{
		{TxID: "tx-1", MerchantID: "store-1", Amount: 120, IP: "203.0.113.5", IPCountry: "US", BINCountry: "US", DeviceID: "dev-1", UserAgent: "Mozilla/5.0", BIN: "451234", LastFour: "1111", CardType: "credit"},
		{TxID: "tx-2", MerchantID: "store-1", Amount: 80, IP: "203.0.113.5", IPCountry: "US", BINCountry: "US", DeviceID: "dev-1", UserAgent: "Mozilla/5.0", BIN: "451234", LastFour: "1111", CardType: "credit"},
		{TxID: "tx-3", MerchantID: "store-2", Amount: 240, IP: "198.51.100.9", IPCountry: "US", BINCountry: "GB", DeviceID: "dev-2", UserAgent: "Mozilla/5.0", BIN: "520000", LastFour: "2222", CardType: "prepaid"},
		{TxID: "tx-4", MerchantID: "store-2", Amount: 60, IP: "198.51.100.9", IPCountry: "US", BINCountry: "US", DeviceID: "dev-2", UserAgent: "Mozilla/5.0", BIN: "520000", LastFour: "2222", CardType: "credit"},
	} {
		tx.EmailNormalized = "a@b.co"
		tx.Datetime = base.Add(time.Duration(i) * 6 * time.Hour)
		gw.AddTransactions(tx)
	}
}

func newPending(id string, w models.Window) *models.Investigation {
	return &models.Investigation{
		ID: id,
		Entities: []models.Entity{
			{Type: models.EntityEmail, NormalizedValue: "a@b.co"},
		},
		Window: w,
		Status: models.StatusPending,
		Settings: models.Settings{
			RiskThreshold:  0.3,
			DecisionFilter: string(config.FilterFinalized),
			ModelVersion:   ModelVersion,
		},
	}
}

// scriptedAnalyzer substitutes one domain with test-controlled behavior.
type scriptedAnalyzer struct {
	domain models.Domain
	fn     func(ctx context.Context, in analyzers.Input) (analyzers.Result, error)
}

func (s scriptedAnalyzer) Domain() models.Domain { return s.domain }

func (s scriptedAnalyzer) Analyze(ctx context.Context, in analyzers.Input) (analyzers.Result, error) {
	return s.fn(ctx, in)
}

func scoredResult(d models.Domain, score float64) analyzers.Result {
	return analyzers.Result{Finding: models.DomainFinding{
		Domain:     d,
		RiskScore:  models.Float64Ptr(score),
		Confidence: 0.9,
	}}
}

func TestStart_CompletesThroughAllDomains(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)
	ctx := context.Background()

	inv := newPending("inv-run", w)
	require.NoError(t, h.orchestrator().Start(ctx, inv))

	loaded, err := h.store.Load(ctx, "inv-run")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.Status)
	assert.Empty(t, loaded.FailCause)

	require.Len(t, loaded.Findings, len(models.AllDomains))
	for _, d := range models.AllDomains {
		assert.Contains(t, loaded.Findings, d)
	}
	require.NotNil(t, loaded.Progress.OverallRiskScore)

	require.Len(t, loaded.Progress.ToolExecutions, len(models.AllDomains))
	for _, exec := range loaded.Progress.ToolExecutions {
		assert.Equal(t, "succeeded", exec.Outcome)
	}

	// The risk domain scored every planned transaction.
	assert.Len(t, loaded.Progress.TransactionScores, 4)
	assert.Positive(t, h.llm.Calls())

	// The canonical report landed in the investigation folder.
	canonical := h.arts.Workspace().CanonicalPath("report", inv.ID, inv.Window, inv.CreatedAt)
	assert.FileExists(t, canonical)

	// Transaction scores were written back as predictions.
	preds := h.gw.Predictions()
	require.Len(t, preds, len(loaded.Progress.TransactionScores))
	for txID, pred := range preds {
		assert.Equal(t, "inv-run", pred.InvestigationID)
		assert.Equal(t, ModelVersion, pred.ModelVersion)
		assert.Equal(t, loaded.Progress.TransactionScores[txID], pred.PredictedRisk)
	}
}

func TestStart_ParallelPolicy(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)
	ctx := context.Background()

	inv := newPending("inv-par", w)
	inv.Settings.Parallel = true
	require.NoError(t, h.orchestrator().Start(ctx, inv))

	loaded, err := h.store.Load(ctx, "inv-par")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.Status)
	assert.Len(t, loaded.Findings, len(models.AllDomains))
	require.NotNil(t, loaded.Progress.OverallRiskScore)
}

// countingAnalyzer records how often a wrapped analyzer actually ran.
type countingAnalyzer struct {
	analyzers.Analyzer
	calls *atomic.Int32
}

func (c countingAnalyzer) Analyze(ctx context.Context, in analyzers.Input) (analyzers.Result, error) {
	c.calls.Add(1)
	return c.Analyzer.Analyze(ctx, in)
}

func TestResume_SkipsDomainsAlreadyAnalyzed(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)
	ctx := context.Background()

	inv := newPending("inv-resume", w)
	inv.Status = models.StatusInProgress
	inv.Findings = models.DomainFindings{}
	done := []models.Domain{models.DomainDevice, models.DomainNetwork, models.DomainLocation, models.DomainLogs}
	for _, d := range done {
		inv.Findings[d] = &models.DomainFinding{
			Domain:     d,
			RiskScore:  models.Float64Ptr(0.2),
			Confidence: 0.8,
		}
	}
	require.NoError(t, h.store.Create(ctx, inv))

	counts := make(map[models.Domain]*atomic.Int32)
	var wrapped []analyzers.Analyzer
	for _, a := range h.analyzerSet() {
		c := &atomic.Int32{}
		counts[a.Domain()] = c
		wrapped = append(wrapped, countingAnalyzer{Analyzer: a, calls: c})
	}
	o := New(h.cfg, h.store, h.gw, wrapped, h.arts)

	got, err := o.Resume(ctx, "inv-resume")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	assert.EqualValues(t, 1, counts[models.DomainRisk].Load())
	for _, d := range done {
		assert.EqualValues(t, 0, counts[d].Load(), "domain %s was already analyzed", d)
	}

	// The checkpointed findings survived the resume untouched.
	require.NotNil(t, got.Findings[models.DomainDevice].RiskScore)
	assert.Equal(t, 0.2, *got.Findings[models.DomainDevice].RiskScore)
	require.Contains(t, got.Findings, models.DomainRisk)
}

func TestResume_RejectsTerminalInvestigation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := newPending("inv-done", testWindow())
	inv.Status = models.StatusCompleted
	require.NoError(t, h.store.Create(ctx, inv))

	_, err := h.orchestrator().Resume(ctx, "inv-done")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidFormat))
	assert.Contains(t, err.Error(), "cannot be resumed")
}

func TestStart_CancellationDiscardsPartialFindings(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	set := []analyzers.Analyzer{
		scriptedAnalyzer{models.DomainDevice, func(ctx context.Context, in analyzers.Input) (analyzers.Result, error) {
			return scoredResult(models.DomainDevice, 0.5), nil
		}},
		scriptedAnalyzer{models.DomainNetwork, func(ctx context.Context, in analyzers.Input) (analyzers.Result, error) {
			cancel()
			<-ctx.Done()
			return analyzers.Result{}, ctx.Err()
		}},
	}
	o := New(h.cfg, h.store, h.gw, set, h.arts)

	inv := newPending("inv-cancel", w)
	err := o.Start(ctx, inv)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCancelled))

	loaded, lerr := h.store.Load(context.Background(), "inv-cancel")
	require.NoError(t, lerr)
	assert.Equal(t, models.StatusFailed, loaded.Status)
	assert.Equal(t, "CANCELLED", loaded.FailCause)

	// The device finding was checkpointed before the cancellation, but an
	// interrupted analysis must not masquerade as a partial result set.
	assert.Empty(t, loaded.Findings)
	assert.Empty(t, loaded.Progress.TransactionScores)
	assert.Nil(t, loaded.Progress.OverallRiskScore)
}

func TestStart_AnalyzerFailureBecomesEvidence(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)
	ctx := context.Background()

	h.siem.Fail = stderrors.New("siem endpoint down")

	inv := newPending("inv-degraded", w)
	require.NoError(t, h.orchestrator().Start(ctx, inv))

	loaded, err := h.store.Load(ctx, "inv-degraded")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.Status)
	require.NotNil(t, loaded.Progress.OverallRiskScore)

	finding := loaded.Findings[models.DomainLogs]
	require.NotNil(t, finding)
	assert.Nil(t, finding.RiskScore)
	assert.Zero(t, finding.Confidence)
	require.NotEmpty(t, finding.Evidence)
	assert.Equal(t, models.EvidenceAnalyzerFailure, finding.Evidence[0].Type)
	assert.Equal(t, "logs analysis unavailable", finding.Narrative)

	var logsExec *models.ToolExecution
	for i := range loaded.Progress.ToolExecutions {
		if loaded.Progress.ToolExecutions[i].Domain == models.DomainLogs {
			logsExec = &loaded.Progress.ToolExecutions[i]
		}
	}
	require.NotNil(t, logsExec)
	assert.Equal(t, "failed", logsExec.Outcome)
	assert.Contains(t, logsExec.Detail, "siem search failed")
}

func TestStart_NoScoredDomainsStillCompletes(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)
	ctx := context.Background()

	// Every domain returns an unscored finding. The investigation must
	// complete with a nil overall score, not fail for lack of data.
	var set []analyzers.Analyzer
	for _, d := range models.AllDomains {
		set = append(set, scriptedAnalyzer{d, func(ctx context.Context, in analyzers.Input) (analyzers.Result, error) {
			return analyzers.Result{Finding: models.DomainFinding{Domain: d}}, nil
		}})
	}
	o := New(h.cfg, h.store, h.gw, set, h.arts)

	require.NoError(t, o.Start(ctx, newPending("inv-unscored", w)))

	loaded, err := h.store.Load(ctx, "inv-unscored")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, loaded.Status)
	assert.Empty(t, loaded.FailCause)
	assert.Nil(t, loaded.Progress.OverallRiskScore)
}

func TestStart_RecursionLimitFailsInvestigation(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)
	ctx := context.Background()

	inv := newPending("inv-limit", w)
	inv.Settings.RecursionLimit = 2

	err := h.orchestrator().Start(ctx, inv)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRecursionLimit))

	loaded, lerr := h.store.Load(ctx, "inv-limit")
	require.NoError(t, lerr)
	assert.Equal(t, models.StatusFailed, loaded.Status)
	assert.Equal(t, "RECURSION_LIMIT", loaded.FailCause)
}

func TestStart_CheckpointFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)
	ctx := context.Background()

	boom := stderrors.New("state backend down")
	set := []analyzers.Analyzer{
		scriptedAnalyzer{models.DomainDevice, func(ctx context.Context, in analyzers.Input) (analyzers.Result, error) {
			h.store.SaveErr = boom
			return scoredResult(models.DomainDevice, 0.4), nil
		}},
	}
	o := New(h.cfg, h.store, h.gw, set, h.arts)

	err := o.Start(ctx, newPending("inv-ckpt", w))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInternal))
	assert.Contains(t, err.Error(), "failed to checkpoint after device analyzer")

	loaded, lerr := h.store.Load(ctx, "inv-ckpt")
	require.NoError(t, lerr)
	assert.Equal(t, models.StatusFailed, loaded.Status)
	assert.Equal(t, "INTERNAL", loaded.FailCause)
}

// recordingStore observes every checkpoint's finding count.
type recordingStore struct {
	*statestore.MemoryStore
	mu            sync.Mutex
	findingCounts []int
}

func (r *recordingStore) Save(ctx context.Context, inv *models.Investigation) error {
	r.mu.Lock()
	r.findingCounts = append(r.findingCounts, len(inv.Findings))
	r.mu.Unlock()
	return r.MemoryStore.Save(ctx, inv)
}

func TestStart_CheckpointsAfterEveryAnalyzer(t *testing.T) {
	h := newHarness(t)
	w := testWindow()
	seedActivity(h.gw, w)
	ctx := context.Background()

	rec := &recordingStore{MemoryStore: h.store}
	o := New(h.cfg, rec, h.gw, h.analyzerSet(), h.arts)
	require.NoError(t, o.Start(ctx, newPending("inv-ckpts", w)))

	// One save entering the run, one after each of the five analyzers,
	// one after aggregation, one at completion.
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 5, 5}, rec.findingCounts)
}

func TestTenureFromHistory(t *testing.T) {
	w := testWindow()
	txs := []models.Transaction{
		{EmailNormalized: "a@b.co", Datetime: w.End.AddDate(0, 0, -10)},
		{EmailNormalized: "a@b.co", Datetime: w.End.AddDate(0, 0, -3)},
		{EmailNormalized: "c@d.co", Datetime: w.End.AddDate(0, 0, -1)},
		{Datetime: w.End.AddDate(0, 0, -30)}, // no email, ignored
	}

	tenure := tenureFromHistory(txs, w)
	assert.Equal(t, map[string]int{"a@b.co": 10, "c@d.co": 1}, tenure)
}

func TestToolSuccessRatio(t *testing.T) {
	assert.Zero(t, toolSuccessRatio(nil))
	assert.Equal(t, 0.5, toolSuccessRatio([]models.ToolExecution{
		{Outcome: "succeeded"},
		{Outcome: "failed"},
	}))
}
