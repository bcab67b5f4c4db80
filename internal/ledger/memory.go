package ledger

import (
	"context"
	"sync"

	"github.com/agorasim/trading-core/internal/model"
)

// MemoryLedger implements Ledger with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu           sync.RWMutex
	transactions []model.Transaction
	interactions []model.InteractionLog
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) RecordTransaction(_ context.Context, tx *model.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transactions = append(l.transactions, *tx)
	return nil
}

func (l *MemoryLedger) RecordInteraction(_ context.Context, log *model.InteractionLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.interactions = append(l.interactions, *log)
	return nil
}

func (l *MemoryLedger) Transactions(_ context.Context, limit int, runID string) ([]model.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	// Append order is chronological; walk backwards for newest-first.
	result := make([]model.Transaction, 0, limit)
	for i := len(l.transactions) - 1; i >= 0 && len(result) < limit; i-- {
		if runID != "" && l.transactions[i].RunID != runID {
			continue
		}
		result = append(result, l.transactions[i])
	}
	return result, nil
}

func (l *MemoryLedger) Interactions(_ context.Context, limit int, runID string) ([]model.InteractionLog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	result := make([]model.InteractionLog, 0, limit)
	for i := len(l.interactions) - 1; i >= 0 && len(result) < limit; i-- {
		if runID != "" && l.interactions[i].RunID != runID {
			continue
		}
		result = append(result, l.interactions[i])
	}
	return result, nil
}
