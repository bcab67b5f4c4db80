package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agorasim/trading-core/internal/model"
)

// PostgresLedger implements Ledger using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Migrate creates the ledger tables. It is idempotent and non-destructive:
// re-running it against an existing database, including one created before
// run IDs existed, only adds what is missing.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id        TEXT PRIMARY KEY,
			buyer_id  TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			asset     TEXT NOT NULL,
			price     NUMERIC NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id              TEXT PRIMARY KEY,
			kind            TEXT NOT NULL,
			agent_id        TEXT NOT NULL,
			counterparty_id TEXT,
			action          TEXT NOT NULL,
			asset           TEXT NOT NULL,
			price           NUMERIC NOT NULL,
			details         TEXT NOT NULL DEFAULT '',
			timestamp       TIMESTAMPTZ NOT NULL
		)`,
		// run_id arrived after the initial schema; pre-existing rows keep NULL.
		`ALTER TABLE transactions ADD COLUMN IF NOT EXISTS run_id TEXT`,
		`ALTER TABLE interactions ADD COLUMN IF NOT EXISTS run_id TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions (timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_run_id ON transactions (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions (timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_run_id ON interactions (run_id)`,
	}

	for _, stmt := range stmts {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ledger migrate: %w", err)
		}
	}
	return nil
}

func (l *PostgresLedger) RecordTransaction(ctx context.Context, tx *model.Transaction) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO transactions (id, buyer_id, seller_id, asset, price, run_id, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, NULLIF($6, ''), $7)`,
		tx.ID, tx.BuyerID, tx.SellerID, tx.Asset, tx.Price.String(), tx.RunID, tx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (l *PostgresLedger) RecordInteraction(ctx context.Context, log *model.InteractionLog) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO interactions (id, kind, agent_id, counterparty_id, action, asset, price, details, run_id, timestamp)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7::NUMERIC, $8, NULLIF($9, ''), $10)`,
		log.ID, log.Kind, log.AgentID, log.CounterpartyID,
		string(log.Action), log.Asset, log.Price.String(), log.Details,
		log.RunID, log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record interaction %s: %w", log.ID, err)
	}
	return nil
}

func (l *PostgresLedger) Transactions(ctx context.Context, limit int, runID string) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, buyer_id, seller_id, asset, price::TEXT,
		        COALESCE(run_id, ''), timestamp
		 FROM transactions
		 WHERE ($1 = '' OR run_id = $1)
		 ORDER BY timestamp DESC
		 LIMIT $2`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var priceS string
		if err := rows.Scan(&tx.ID, &tx.BuyerID, &tx.SellerID, &tx.Asset,
			&priceS, &tx.RunID, &tx.Timestamp); err != nil {
			return nil, err
		}
		tx.Price, err = decimal.NewFromString(priceS)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad price %q: %w", tx.ID, priceS, err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (l *PostgresLedger) Interactions(ctx context.Context, limit int, runID string) ([]model.InteractionLog, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, kind, agent_id, COALESCE(counterparty_id, ''), action, asset,
		        price::TEXT, details, COALESCE(run_id, ''), timestamp
		 FROM interactions
		 WHERE ($1 = '' OR run_id = $1)
		 ORDER BY timestamp DESC
		 LIMIT $2`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.InteractionLog
	for rows.Next() {
		var il model.InteractionLog
		var action, priceS string
		if err := rows.Scan(&il.ID, &il.Kind, &il.AgentID, &il.CounterpartyID,
			&action, &il.Asset, &priceS, &il.Details, &il.RunID, &il.Timestamp); err != nil {
			return nil, err
		}
		il.Action = model.Action(action)
		il.Price, err = decimal.NewFromString(priceS)
		if err != nil {
			return nil, fmt.Errorf("interaction %s: bad price %q: %w", il.ID, priceS, err)
		}
		logs = append(logs, il)
	}
	return logs, rows.Err()
}
