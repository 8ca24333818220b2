package warehouse

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/entity"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/metrics"
	"github.com/fraudlens/fraudlens/internal/models"
)

// labelTables maps cascade sources to their warehouse tables. The
// primary source is the is_fraud_tx column on transactions itself.
var labelTables = map[LabelSource]struct{ table, labelCol string }{
	SourceChargeback:   {"chargebacks", "is_fraud"},
	SourceManualReview: {"manual_reviews", "is_fraud"},
	SourceExternal:     {"external_fraud_labels", "is_fraud"},
}

// SQLGateway executes parameterized analytical queries through sqlx.
// The same SQL layer serves both providers; only column casing and the
// upsert statement differ by dialect.
type SQLGateway struct {
	db           *sqlx.DB
	dialect      entity.Dialect
	batchSize    int
	safetyFactor int
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewSQLGateway connects to the warehouse described by cfg. The postgres
// provider uses the relational dialect, snowflake the columnar one.
func NewSQLGateway(ctx context.Context, cfg config.WarehouseConfig) (*SQLGateway, error) {
	driver := "postgres"
	dialect := entity.DialectRelational
	if cfg.Provider == config.ProviderSnowflake {
		driver = "snowflake"
		dialect = entity.DialectColumnar
	}

	db, err := sqlx.ConnectContext(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindWarehouseUnavailable,
			"failed to connect to %s warehouse", cfg.Provider)
	}
	db.SetMaxOpenConns(cfg.PoolSize)

	logger := slog.Default().With("component", "warehouse")
	logger.Info("warehouse gateway connected", "provider", string(cfg.Provider), "pool_size", cfg.PoolSize)

	return &SQLGateway{
		db:           db,
		dialect:      dialect,
		batchSize:    cfg.BatchSize,
		safetyFactor: cfg.SafetyFactor,
		queryTimeout: cfg.QueryTimeout,
		logger:       logger,
	}, nil
}

// Dialect reports the column naming convention.
func (g *SQLGateway) Dialect() entity.Dialect {
	return g.dialect
}

// Ping verifies connectivity.
func (g *SQLGateway) Ping(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.KindWarehouseUnavailable, "warehouse ping failed")
	}
	return nil
}

// Close closes the connection pool.
func (g *SQLGateway) Close() error {
	return g.db.Close()
}

// col renders a column name in the dialect's case.
func (g *SQLGateway) col(name string) string {
	if g.dialect == entity.DialectColumnar {
		return strings.ToUpper(name)
	}
	return name
}

// txRecord matches the transactions table. Every column is aliased to
// its lower-case name in the SELECT so one struct serves both dialects.
type txRecord struct {
	TxID        string          `db:"tx_id"`
	TxDatetime  time.Time       `db:"tx_datetime"`
	StoreID     sql.NullString  `db:"store_id"`
	Amount      sql.NullFloat64 `db:"paid_amount_value"`
	Currency    sql.NullString  `db:"paid_amount_currency"`
	CardBIN     sql.NullString  `db:"card_bin"`
	LastFour    sql.NullString  `db:"last_four"`
	Email       sql.NullString  `db:"email_normalized"`
	DeviceID    sql.NullString  `db:"device_id"`
	IP          sql.NullString  `db:"ip"`
	IPCountry   sql.NullString  `db:"ip_country"`
	BINCountry  sql.NullString  `db:"bin_country"`
	UserAgent   sql.NullString  `db:"user_agent"`
	CardType    sql.NullString  `db:"card_type"`
	Decision    sql.NullString  `db:"decision"`
	IsFraudTx   sql.NullInt64   `db:"is_fraud_tx"`
}

func (r *txRecord) toModel() models.Transaction {
	tx := models.Transaction{
		TxID:            r.TxID,
		Datetime:        r.TxDatetime,
		MerchantID:      r.StoreID.String,
		Amount:          r.Amount.Float64,
		Currency:        r.Currency.String,
		BIN:             r.CardBIN.String,
		LastFour:        r.LastFour.String,
		EmailNormalized: r.Email.String,
		DeviceID:        r.DeviceID.String,
		IP:              r.IP.String,
		IPCountry:       r.IPCountry.String,
		BINCountry:      r.BINCountry.String,
		UserAgent:       r.UserAgent.String,
		CardType:        r.CardType.String,
	}
	if r.Decision.Valid {
		d := models.Decision(strings.ToUpper(r.Decision.String))
		tx.Decision = &d
	}
	if r.IsFraudTx.Valid {
		tx.ActualLabel = models.IntPtr(int(r.IsFraudTx.Int64))
	}
	return tx
}

// Transactions fetches transactions matching the compound entity inside
// the half-open window, under the given decision filter mode.
func (g *SQLGateway) Transactions(ctx context.Context, target models.CompoundEntity, w models.Window, mode config.DecisionFilterMode) ([]models.Transaction, error) {
	frag, err := entity.BuildCompoundPredicate(target, g.dialect)
	if err != nil {
		return nil, err
	}

	cols := []string{"tx_id", "tx_datetime", "store_id", "paid_amount_value", "paid_amount_currency",
		"card_bin", "last_four", "email_normalized", "device_id", "ip", "ip_country", "bin_country",
		"user_agent", "card_type", "decision", "is_fraud_tx"}
	var sel []string
	for _, c := range cols {
		sel = append(sel, fmt.Sprintf("%s AS %s", g.col(c), c))
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s AND %s >= ? AND %s < ? AND %s ORDER BY %s",
		strings.Join(sel, ", "),
		g.col("transactions"),
		frag.SQL,
		g.col("tx_datetime"), g.col("tx_datetime"),
		DecisionFilterSQL(mode, g.dialect),
		g.col("tx_datetime"),
	)
	args := append(append([]any{}, frag.Args...), w.Start, w.End)

	var records []txRecord
	if err := g.selectContext(ctx, &records, query, args...); err != nil {
		return nil, err
	}

	out := make([]models.Transaction, 0, len(records))
	for i := range records {
		out = append(out, records[i].toModel())
	}
	return out, nil
}

// Labels fetches ground-truth labels from one cascade source. The IN
// list is chunked at the batch size; chunk results are concatenated
// preserving input order. No window filter on purpose (labels lag).
func (g *SQLGateway) Labels(ctx context.Context, txIDs []string, source LabelSource) (map[string]int, error) {
	if len(txIDs) == 0 {
		return map[string]int{}, nil
	}

	table := g.col("transactions")
	labelCol := g.col("is_fraud_tx")
	if source != SourcePrimary {
		spec, ok := labelTables[source]
		if !ok {
			return nil, errors.Newf(errors.KindInternal, "unknown label source %q", source)
		}
		table = g.col(spec.table)
		labelCol = g.col(spec.labelCol)
	}

	type labelRow struct {
		TxID  string        `db:"tx_id"`
		Label sql.NullInt64 `db:"label"`
	}

	batches := chunk(txIDs, g.batchSize)
	if len(batches) > 1 {
		g.logger.Debug("chunking label query", "source", string(source),
			"ids", len(txIDs), "batches", len(batches))
	}

	var rows []labelRow
	for _, batch := range batches {
		query, args, err := sqlx.In(fmt.Sprintf(
			"SELECT %s AS tx_id, %s AS label FROM %s WHERE %s IN (?)",
			g.col("tx_id"), labelCol, table, g.col("tx_id"),
		), batch)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindWarehouseUnavailable, "failed to expand IN clause")
		}

		var batchRows []labelRow
		if err := g.selectContext(ctx, &batchRows, query, args...); err != nil {
			return nil, err
		}
		rows = append(rows, batchRows...)
	}

	// Defensive truncation: if the engine ignored the IN clause the
	// result count explodes past any sane bound for the inputs given.
	limit := len(txIDs) * g.safetyFactor
	if g.safetyFactor > 0 && len(rows) > limit {
		g.logger.Warn("label query returned more rows than inputs allow, truncating",
			"source", string(source), "inputs", len(txIDs), "rows", len(rows), "kept", limit)
		rows = rows[:limit]
	}

	labels := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.Label.Valid {
			labels[r.TxID] = int(r.Label.Int64)
		}
	}
	return labels, nil
}

// UpsertPredictions writes one row per tx_id with insert-or-replace
// semantics.
func (g *SQLGateway) UpsertPredictions(ctx context.Context, preds []models.Prediction) error {
	if len(preds) == 0 {
		return nil
	}

	var query string
	if g.dialect == entity.DialectColumnar {
		query = `MERGE INTO PREDICTIONS t USING (SELECT ? AS TX_ID) s ON t.TX_ID = s.TX_ID
			WHEN MATCHED THEN UPDATE SET PREDICTED_RISK = ?, PREDICTED_LABEL = ?, MODEL_VERSION = ?,
				INVESTIGATION_ID = ?, ENTITY_TYPE = ?, ENTITY_ID = ?, MERCHANT_ID = ?,
				WINDOW_START = ?, WINDOW_END = ?, RISK_THRESHOLD = ?, UPDATED_AT = ?
			WHEN NOT MATCHED THEN INSERT (TX_ID, PREDICTED_RISK, PREDICTED_LABEL, MODEL_VERSION,
				INVESTIGATION_ID, ENTITY_TYPE, ENTITY_ID, MERCHANT_ID, WINDOW_START, WINDOW_END,
				RISK_THRESHOLD, UPDATED_AT)
			VALUES (s.TX_ID, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	} else {
		query = `INSERT INTO predictions (tx_id, predicted_risk, predicted_label, model_version,
				investigation_id, entity_type, entity_id, merchant_id, window_start, window_end,
				risk_threshold, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tx_id) DO UPDATE SET
				predicted_risk = EXCLUDED.predicted_risk,
				predicted_label = EXCLUDED.predicted_label,
				model_version = EXCLUDED.model_version,
				investigation_id = EXCLUDED.investigation_id,
				entity_type = EXCLUDED.entity_type,
				entity_id = EXCLUDED.entity_id,
				merchant_id = EXCLUDED.merchant_id,
				window_start = EXCLUDED.window_start,
				window_end = EXCLUDED.window_end,
				risk_threshold = EXCLUDED.risk_threshold,
				updated_at = EXCLUDED.updated_at`
	}

	for _, p := range preds {
		var args []any
		if g.dialect == entity.DialectColumnar {
			args = []any{p.TxID,
				p.PredictedRisk, p.PredictedLabel, p.ModelVersion, p.InvestigationID,
				p.EntityType, p.EntityID, p.MerchantID, p.WindowStart, p.WindowEnd,
				p.RiskThreshold, p.UpdatedAt,
				p.PredictedRisk, p.PredictedLabel, p.ModelVersion, p.InvestigationID,
				p.EntityType, p.EntityID, p.MerchantID, p.WindowStart, p.WindowEnd,
				p.RiskThreshold, p.UpdatedAt}
		} else {
			args = []any{p.TxID, p.PredictedRisk, p.PredictedLabel, p.ModelVersion,
				p.InvestigationID, p.EntityType, p.EntityID, p.MerchantID,
				p.WindowStart, p.WindowEnd, p.RiskThreshold, p.UpdatedAt}
		}
		if err := g.execContext(ctx, query, args...); err != nil {
			return err
		}
	}

	g.logger.Debug("predictions upserted", "count", len(preds))
	return nil
}

// selectContext runs a rebound query under the gateway timeout and maps
// driver failures to the error taxonomy.
func (g *SQLGateway) selectContext(ctx context.Context, dest any, query string, args ...any) error {
	qctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	started := time.Now()
	err := g.db.SelectContext(qctx, dest, g.db.Rebind(query), args...)
	metrics.WarehouseQueryDuration.WithLabelValues("select").Observe(time.Since(started).Seconds())
	return g.mapQueryError(ctx, qctx, err)
}

func (g *SQLGateway) execContext(ctx context.Context, query string, args ...any) error {
	qctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	started := time.Now()
	_, err := g.db.ExecContext(qctx, g.db.Rebind(query), args...)
	metrics.WarehouseQueryDuration.WithLabelValues("exec").Observe(time.Since(started).Seconds())
	return g.mapQueryError(ctx, qctx, err)
}

func (g *SQLGateway) mapQueryError(parent, qctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(parent.Err(), context.Canceled) {
		return errors.Wrap(err, errors.KindCancelled, "warehouse query cancelled")
	}
	if stderrors.Is(qctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(err, errors.KindTimeout, "warehouse query timed out")
	}
	return errors.Wrap(err, errors.KindWarehouseUnavailable, "warehouse query failed")
}
