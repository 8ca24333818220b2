package warehouse

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/entity"
	"github.com/fraudlens/fraudlens/internal/models"
)

// MemoryGateway is the in-process warehouse used in demo mode and in
// tests. It honors the same chunking and truncation contracts as the
// SQL gateway so batching behavior is observable without a database.
type MemoryGateway struct {
	mu           sync.RWMutex
	txs          []models.Transaction
	labels       map[LabelSource]map[string]int
	preds        map[string]models.Prediction
	batchSize    int
	safetyFactor int
	logger       *slog.Logger

	// LabelBatches counts issued label batches, observable by tests.
	LabelBatches int
	// IgnoreINClause simulates an engine that drops the IN filter and
	// returns every labeled row regardless of the requested ids.
	IgnoreINClause bool
	// FailWith, when set, makes every call fail with this error.
	FailWith error
}

// NewMemoryGateway creates an empty in-memory warehouse.
func NewMemoryGateway(cfg config.WarehouseConfig) *MemoryGateway {
	return &MemoryGateway{
		labels:       make(map[LabelSource]map[string]int),
		preds:        make(map[string]models.Prediction),
		batchSize:    cfg.BatchSize,
		safetyFactor: cfg.SafetyFactor,
		logger:       slog.Default().With("component", "warehouse_memory"),
	}
}

// AddTransactions loads warehouse facts.
func (g *MemoryGateway) AddTransactions(txs ...models.Transaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.txs = append(g.txs, txs...)
}

// SetLabel records a ground-truth label under one cascade source.
func (g *MemoryGateway) SetLabel(source LabelSource, txID string, label int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.labels[source] == nil {
		g.labels[source] = make(map[string]int)
	}
	g.labels[source][txID] = label
}

// Predictions returns a copy of the stored prediction rows.
func (g *MemoryGateway) Predictions() map[string]models.Prediction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]models.Prediction, len(g.preds))
	for k, v := range g.preds {
		out[k] = v
	}
	return out
}

// Dialect reports relational; the in-memory store mirrors postgres.
func (g *MemoryGateway) Dialect() entity.Dialect {
	return entity.DialectRelational
}

// Ping always succeeds unless a failure is injected.
func (g *MemoryGateway) Ping(ctx context.Context) error {
	return g.FailWith
}

// Close is a no-op.
func (g *MemoryGateway) Close() error { return nil }

func matchEntity(tx *models.Transaction, e models.Entity) bool {
	switch e.Type {
	case models.EntityEmail:
		return tx.EmailNormalized == e.NormalizedValue
	case models.EntityDevice:
		return tx.DeviceID == e.NormalizedValue
	case models.EntityIP:
		return tx.IP == e.NormalizedValue
	case models.EntityCardFingerprint:
		return tx.CardHash() == e.NormalizedValue
	case models.EntityMerchant:
		return tx.MerchantID == e.NormalizedValue
	default:
		// phone and account are not columns of the transactions table
		return false
	}
}

func matchCompound(tx *models.Transaction, target models.CompoundEntity) bool {
	if len(target.Entities) == 0 {
		return false
	}
	if target.Op == models.CompoundOr {
		for _, e := range target.Entities {
			if matchEntity(tx, e) {
				return true
			}
		}
		return false
	}
	for _, e := range target.Entities {
		if !matchEntity(tx, e) {
			return false
		}
	}
	return true
}

// Transactions returns matching facts ordered by datetime.
func (g *MemoryGateway) Transactions(ctx context.Context, target models.CompoundEntity, w models.Window, mode config.DecisionFilterMode) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxError(err)
	}
	if g.FailWith != nil {
		return nil, g.FailWith
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []models.Transaction
	for i := range g.txs {
		tx := g.txs[i]
		if !matchCompound(&tx, target) {
			continue
		}
		if !w.Contains(tx.Datetime) {
			continue
		}
		if !DecisionPasses(tx.Decision, mode) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Datetime.Before(out[j].Datetime) })
	return out, nil
}

// Labels applies the batching and truncation contracts in memory.
func (g *MemoryGateway) Labels(ctx context.Context, txIDs []string, source LabelSource) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxError(err)
	}
	if g.FailWith != nil {
		return nil, g.FailWith
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	src := g.labels[source]
	type row struct {
		txID  string
		label int
	}

	var rows []row
	for _, batch := range chunk(txIDs, g.batchSize) {
		g.LabelBatches++
		if g.IgnoreINClause {
			for id, label := range src {
				rows = append(rows, row{id, label})
			}
			continue
		}
		for _, id := range batch {
			if label, ok := src[id]; ok {
				rows = append(rows, row{id, label})
			}
		}
	}

	limit := len(txIDs) * g.safetyFactor
	if g.safetyFactor > 0 && len(rows) > limit {
		g.logger.Warn("label query returned more rows than inputs allow, truncating",
			"source", string(source), "inputs", len(txIDs), "rows", len(rows), "kept", limit)
		rows = rows[:limit]
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.txID] = r.label
	}
	return out, nil
}

// UpsertPredictions stores one row per tx_id, replacing on conflict.
func (g *MemoryGateway) UpsertPredictions(ctx context.Context, preds []models.Prediction) error {
	if err := ctx.Err(); err != nil {
		return ctxError(err)
	}
	if g.FailWith != nil {
		return g.FailWith
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range preds {
		g.preds[p.TxID] = p
	}
	return nil
}
