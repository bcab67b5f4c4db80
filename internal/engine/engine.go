// Package engine coordinates order matching, portfolio settlement, and
// ledger persistence. It is the single entry point that turns a proposed
// agent action into either a durably recorded transaction or a no-op,
// keeping the per-asset order books, the acting agent's portfolio, and the
// ledger mutually consistent.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agorasim/trading-core/internal/book"
	"github.com/agorasim/trading-core/internal/ledger"
	"github.com/agorasim/trading-core/internal/metrics"
	"github.com/agorasim/trading-core/internal/model"
	"github.com/agorasim/trading-core/internal/portfolio"
)

// TradePublisher receives every executed transaction, e.g. for WebSocket
// broadcast. Publishing must not block the commit path.
type TradePublisher interface {
	PublishTrade(tx *model.Transaction)
}

// Engine owns one order book per supported asset and serializes all book
// mutation per asset: decisions may be fetched concurrently, but the
// match + settle + persist sequence for one asset runs under that asset's
// lock as a bounded critical section.
type Engine struct {
	ledger ledger.Ledger
	runID  string

	books map[string]*book.Book
	locks map[string]*sync.Mutex

	priceMu sync.RWMutex
	prices  map[string]decimal.Decimal

	publisher TradePublisher
}

// New creates an engine with one empty book per supported asset and every
// last-trade price seeded. Non-positive seed prices fall back to the
// default.
func New(led ledger.Ledger, runID string, seedPrice decimal.Decimal) *Engine {
	if !seedPrice.IsPositive() {
		seedPrice = model.DefaultSeedPrice
	}

	e := &Engine{
		ledger: led,
		runID:  runID,
		books:  make(map[string]*book.Book, len(model.SupportedAssets)),
		locks:  make(map[string]*sync.Mutex, len(model.SupportedAssets)),
		prices: make(map[string]decimal.Decimal, len(model.SupportedAssets)),
	}
	for _, asset := range model.SupportedAssets {
		e.books[asset] = book.New(asset)
		e.locks[asset] = &sync.Mutex{}
		e.prices[asset] = seedPrice
	}
	return e
}

// SetTradePublisher wires an optional publisher for executed trades.
// Pass nil to disable. Not safe to call once actions are being processed.
func (e *Engine) SetTradePublisher(p TradePublisher) {
	e.publisher = p
}

// RunID returns the identifier stamped on every record this engine writes.
func (e *Engine) RunID() string { return e.runID }

// GetState returns the market snapshot for one asset: cached last-trade
// price plus the order book summary. Unknown assets are redirected to the
// default asset rather than rejected.
func (e *Engine) GetState(asset string) model.MarketState {
	if !model.IsSupportedAsset(asset) {
		asset = model.DefaultAsset()
	}

	mu := e.locks[asset]
	mu.Lock()
	summary := e.books[asset].Summary()
	mu.Unlock()

	e.priceMu.RLock()
	price := e.prices[asset]
	e.priceMu.RUnlock()

	return model.MarketState{
		Asset:            asset,
		CurrentPrice:     price,
		OrderBookSummary: summary,
	}
}

// CurrentPrices returns a snapshot of every asset's last-trade price, for
// marking portfolios to market.
func (e *Engine) CurrentPrices() map[string]decimal.Decimal {
	e.priceMu.RLock()
	defer e.priceMu.RUnlock()

	prices := make(map[string]decimal.Decimal, len(e.prices))
	for asset, p := range e.prices {
		prices[asset] = p
	}
	return prices
}

// ProcessAction submits one validated action to the matching engine and, on
// a match, settles it against the acting agent's portfolio and records it.
//
// Malformed input (no-op action, unknown asset, non-positive price) and
// failed settlement resolve to (nil, nil): no transaction, no error, no
// state mutation beyond what is noted below. The returned error is non-nil
// only when a matched and settled trade could not be durably recorded; such
// a trade must not be treated as executed.
//
// When settlement fails the matched resting counter-order has already left
// the book and is not restored. That loss is a known consistency gap,
// surfaced through a warning log and the settlement-failure metric rather
// than silently patched; tests pin it so any fix is a deliberate change.
func (e *Engine) ProcessAction(ctx context.Context, agentID string, pf *portfolio.Portfolio, action model.Action, asset string, price decimal.Decimal) (*model.Transaction, error) {
	if action.IsNoOp() {
		return nil, nil
	}
	if action != model.ActionBuy && action != model.ActionSell {
		metrics.ActionsRejected.WithLabelValues("unknown_action").Inc()
		return nil, nil
	}
	if !model.IsSupportedAsset(asset) {
		metrics.ActionsRejected.WithLabelValues("unknown_asset").Inc()
		return nil, nil
	}
	if !price.IsPositive() {
		metrics.ActionsRejected.WithLabelValues("invalid_price").Inc()
		return nil, nil
	}

	mu := e.locks[asset]
	mu.Lock()
	defer mu.Unlock()

	b := e.books[asset]

	var match *book.Match
	if action == model.ActionBuy {
		match = b.SubmitBuy(agentID, price)
	} else {
		match = b.SubmitSell(agentID, price)
	}
	defer e.updateBookGauges(asset, b)

	if match == nil {
		return nil, nil
	}

	// Settlement is all-or-nothing against the acting agent. Quantity is
	// one unit per action throughout the system.
	var settled bool
	if action == model.ActionBuy {
		settled = pf.ExecuteBuy(asset, 1, match.Price)
	} else {
		settled = pf.ExecuteSell(asset, 1, match.Price)
	}
	if !settled {
		metrics.SettlementFailures.WithLabelValues(asset, string(action)).Inc()
		slog.Warn("trade abandoned at settlement, resting counter-order lost",
			"agent", agentID,
			"action", string(action),
			"asset", asset,
			"price", match.Price.String(),
		)
		return nil, nil
	}

	tx := &model.Transaction{
		ID:        uuid.New().String(),
		BuyerID:   match.Buyer,
		SellerID:  match.Seller,
		Asset:     asset,
		Price:     match.Price,
		RunID:     e.runID,
		Timestamp: time.Now().UTC(),
	}

	if err := e.ledger.RecordTransaction(ctx, tx); err != nil {
		metrics.LedgerWriteFailures.Inc()
		slog.Error("ledger write failed, trade not recorded",
			"asset", asset,
			"price", tx.Price.String(),
			"err", err,
		)
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	e.priceMu.Lock()
	e.prices[asset] = tx.Price
	e.priceMu.Unlock()

	metrics.TradesTotal.WithLabelValues(asset).Inc()
	slog.Info("trade executed",
		"tx_id", tx.ID,
		"buyer", tx.BuyerID,
		"seller", tx.SellerID,
		"asset", asset,
		"price", tx.Price.String(),
	)

	if e.publisher != nil {
		e.publisher.PublishTrade(tx)
	}
	return tx, nil
}

// NegotiatePrice produces a counter-offer between the proposed price and
// the current best opposing quote: for a buy priced below the best ask or a
// sell priced above the best bid, the midpoint, with an interaction record
// for the audit trail. Otherwise the price is returned unchanged with no
// record.
//
// Negotiation is advisory: it observes a snapshot of the book and reserves
// nothing. Callers re-submit through ProcessAction, which re-validates at
// commit time.
func (e *Engine) NegotiatePrice(agentID string, action model.Action, asset string, price decimal.Decimal) (decimal.Decimal, *model.InteractionLog) {
	if !model.IsSupportedAsset(asset) {
		return price, nil
	}

	mu := e.locks[asset]
	mu.Lock()
	b := e.books[asset]
	bestBid, hasBid := b.BestBid()
	bestAsk, hasAsk := b.BestAsk()
	mu.Unlock()

	two := decimal.NewFromInt(2)

	switch {
	case action == model.ActionBuy && hasAsk && price.LessThan(bestAsk):
		counter := price.Add(bestAsk).Div(two)
		metrics.NegotiationsTotal.WithLabelValues(asset).Inc()
		return counter, e.negotiationLog(agentID, action, asset, counter,
			fmt.Sprintf("Counter-offer between bid %s and ask %s.", price, bestAsk))

	case action == model.ActionSell && hasBid && price.GreaterThan(bestBid):
		counter := price.Add(bestBid).Div(two)
		metrics.NegotiationsTotal.WithLabelValues(asset).Inc()
		return counter, e.negotiationLog(agentID, action, asset, counter,
			fmt.Sprintf("Counter-offer between ask %s and bid %s.", price, bestBid))
	}

	return price, nil
}

func (e *Engine) negotiationLog(agentID string, action model.Action, asset string, price decimal.Decimal, details string) *model.InteractionLog {
	return &model.InteractionLog{
		ID:        uuid.New().String(),
		Kind:      model.InteractionNegotiation,
		AgentID:   agentID,
		Action:    action,
		Asset:     asset,
		Price:     price,
		Details:   details,
		RunID:     e.runID,
		Timestamp: time.Now().UTC(),
	}
}

// updateBookGauges refreshes the resting-order depth gauges. Caller holds
// the asset lock.
func (e *Engine) updateBookGauges(asset string, b *book.Book) {
	s := b.Summary()
	metrics.RestingOrders.WithLabelValues(asset, "bid").Set(float64(s.BidsCount))
	metrics.RestingOrders.WithLabelValues(asset, "ask").Set(float64(s.AsksCount))
}
