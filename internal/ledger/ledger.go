// Package ledger defines the append-only persistence layer for transactions
// and interaction records. Implementations include PostgreSQL (source of
// truth), a Redis read-through cache wrapper, and in-memory (for testing
// and development).
package ledger

import (
	"context"

	"github.com/agorasim/trading-core/internal/model"
)

// Ledger is the durable, append-only store. Records are immutable once
// written; queries return newest-first, optionally limited and filtered by
// run ID (empty runID means all runs).
//
// Writes are synchronous from the caller's perspective: the engine must not
// report a transaction as executed until RecordTransaction has returned nil.
type Ledger interface {
	// RecordTransaction appends an immutable trade record.
	RecordTransaction(ctx context.Context, tx *model.Transaction) error

	// RecordInteraction appends an action or negotiation audit record.
	RecordInteraction(ctx context.Context, log *model.InteractionLog) error

	// Transactions returns up to limit records, newest first.
	Transactions(ctx context.Context, limit int, runID string) ([]model.Transaction, error)

	// Interactions returns up to limit records, newest first.
	Interactions(ctx context.Context, limit int, runID string) ([]model.InteractionLog, error)
}

// DefaultQueryLimit caps queries that pass a non-positive limit.
const DefaultQueryLimit = 100
