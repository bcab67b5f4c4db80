package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agorasim/trading-core/internal/model"
)

// cacheClient is the subset of redis.Client the cached ledger uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// CachedLedger wraps a primary Ledger (PostgreSQL) with a Redis read-through
// cache for the hot recent-history queries the UI and agents poll every
// tick. Writes go to the primary ledger first and then invalidate the
// cache; a write never succeeds against the cache alone.
type CachedLedger struct {
	primary Ledger
	rdb     cacheClient
	ttl     time.Duration
}

// NewCachedLedger creates a cached wrapper around a primary ledger.
func NewCachedLedger(primary Ledger, rdb cacheClient, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary first, then invalidate) ---

func (l *CachedLedger) RecordTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := l.primary.RecordTransaction(ctx, tx); err != nil {
		return err
	}
	l.invalidate(ctx, "txs")
	return nil
}

func (l *CachedLedger) RecordInteraction(ctx context.Context, log *model.InteractionLog) error {
	if err := l.primary.RecordInteraction(ctx, log); err != nil {
		return err
	}
	l.invalidate(ctx, "interactions")
	return nil
}

// --- Reads (cache first) ---

func (l *CachedLedger) Transactions(ctx context.Context, limit int, runID string) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	key := queryKey("txs", limit, runID)
	if data, err := l.rdb.Get(ctx, key).Bytes(); err == nil {
		var txs []model.Transaction
		if json.Unmarshal(data, &txs) == nil {
			return txs, nil
		}
	}

	txs, err := l.primary.Transactions(ctx, limit, runID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(txs); err == nil {
		l.rdb.Set(ctx, key, data, l.ttl)
	}
	return txs, nil
}

func (l *CachedLedger) Interactions(ctx context.Context, limit int, runID string) ([]model.InteractionLog, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	key := queryKey("interactions", limit, runID)
	if data, err := l.rdb.Get(ctx, key).Bytes(); err == nil {
		var logs []model.InteractionLog
		if json.Unmarshal(data, &logs) == nil {
			return logs, nil
		}
	}

	logs, err := l.primary.Interactions(ctx, limit, runID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(logs); err == nil {
		l.rdb.Set(ctx, key, data, l.ttl)
	}
	return logs, nil
}

// invalidate drops every cached query page for the record kind. Cached keys
// vary by limit and run filter, so match by prefix.
func (l *CachedLedger) invalidate(ctx context.Context, kind string) {
	iter := l.rdb.Scan(ctx, 0, fmt.Sprintf("ledger:%s:*", kind), 0).Iterator()
	for iter.Next(ctx) {
		l.rdb.Del(ctx, iter.Val())
	}
}

func queryKey(kind string, limit int, runID string) string {
	return fmt.Sprintf("ledger:%s:%d:%s", kind, limit, runID)
}
