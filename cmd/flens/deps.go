package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fraudlens/fraudlens/internal/analyzers"
	"github.com/fraudlens/fraudlens/internal/artifacts"
	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/labels"
	"github.com/fraudlens/fraudlens/internal/llm"
	"github.com/fraudlens/fraudlens/internal/models"
	"github.com/fraudlens/fraudlens/internal/orchestrator"
	"github.com/fraudlens/fraudlens/internal/replay"
	"github.com/fraudlens/fraudlens/internal/statestore"
	"github.com/fraudlens/fraudlens/internal/warehouse"
)

// deps is the wired engine: everything a command needs, built once per
// invocation and torn down in close.
type deps struct {
	gateway   warehouse.Gateway
	store     statestore.Store
	artifacts *artifacts.Store
	registry  *artifacts.Registry
	recorder  *replay.Cache
	llm       llm.Client
	orch      *orchestrator.Orchestrator
	joiner    *labels.Joiner
}

// buildDeps wires the engine for the configured mode. Demo mode runs
// entirely in-process: memory warehouse, memory state store, mock LLM.
func buildDeps(ctx context.Context) (*deps, error) {
	d := &deps{}

	ws := artifacts.NewWorkspace(cfg.Workspace.Root)
	if err := os.MkdirAll(ws.Root(), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.KindConfig, "cannot create workspace root %s", ws.Root())
	}

	registry, err := artifacts.OpenRegistry(ws.RegistryPath())
	if err != nil {
		return nil, err
	}
	d.registry = registry
	d.artifacts = artifacts.NewStore(ws, registry)

	recorder, err := replay.Open(ws.ReplayCachePath())
	if err != nil {
		d.close()
		return nil, err
	}
	d.recorder = recorder

	client, err := llm.NewClient(cfg)
	if err != nil {
		d.close()
		return nil, err
	}
	d.llm = client

	if cfg.Mode == config.ModeDemo {
		gw := warehouse.NewMemoryGateway(cfg.Warehouse)
		seedDemoData(gw)
		d.gateway = gw
		d.store = statestore.NewMemoryStore()
	} else {
		gw, err := warehouse.NewSQLGateway(ctx, cfg.Warehouse)
		if err != nil {
			d.close()
			return nil, err
		}
		d.gateway = gw

		store, err := statestore.NewPostgresStore(ctx, cfg.State)
		if err != nil {
			d.close()
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			d.close()
			return nil, err
		}
		d.store = store
	}

	d.joiner = labels.NewJoiner(d.gateway)

	set := analyzers.All(analyzers.Deps{
		Reputation: analyzers.NewStaticIPReputation(),
		SIEM:       analyzers.NewStaticSIEM(),
		LLM:        d.llm,
		Recordings: d.recorder,
	})
	d.orch = orchestrator.New(cfg, d.store, d.gateway, set, d.artifacts)
	return d, nil
}

func (d *deps) close() {
	if d.recorder != nil {
		_ = d.recorder.Close()
	}
	if d.registry != nil {
		_ = d.registry.Close()
	}
	if d.gateway != nil {
		_ = d.gateway.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}

// seedDemoData loads a small deterministic transaction history so demo
// investigations exercise every analyzer without a warehouse.
func seedDemoData(gw *warehouse.MemoryGateway) {
	base := time.Now().UTC().AddDate(0, 0, -10).Truncate(time.Hour)
	mk := func(i int, email, device, ip, ipc, binc, cardType string, amount float64) models.Transaction {
		d := models.DecisionApproved
		return models.Transaction{
			TxID:            demoTxID(i),
			Datetime:        base.Add(time.Duration(i) * 37 * time.Minute),
			MerchantID:      "store-042",
			Amount:          amount,
			Currency:        "USD",
			BIN:             "451234",
			LastFour:        "9876",
			IP:              ip,
			IPCountry:       ipc,
			BINCountry:      binc,
			DeviceID:        device,
			EmailNormalized: email,
			UserAgent:       "Mozilla/5.0 demo",
			CardType:        cardType,
			Decision:        &d,
		}
	}

	var txs []models.Transaction
	for i := 0; i < 12; i++ {
		txs = append(txs, mk(i, "demo.target@example.com", "dev-1", "185.12.0.9", "US", "BR", "PREPAID", 250+float64(i)*40))
	}
	// A second identity on the same device forms the reuse signal.
	for i := 12; i < 18; i++ {
		txs = append(txs, mk(i, "other.buyer@example.com", "dev-1", "45.9.1.2", "GB", "US", "CREDIT", 80))
	}
	gw.AddTransactions(txs...)

	for i := 0; i < 6; i++ {
		gw.SetLabel(warehouse.SourceChargeback, demoTxID(i), 1)
	}
}

func demoTxID(i int) string {
	return fmt.Sprintf("demo-tx-%03d", i)
}
