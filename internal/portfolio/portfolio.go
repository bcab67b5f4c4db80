// Package portfolio tracks one agent's cash, positions, and profit/loss.
//
// A Portfolio is owned by a single agent but mutated by the market engine
// during trade settlement. Both mutations are all-or-nothing: an
// unaffordable buy or an oversized sell refuses outright and leaves no
// state change. Reads for UIs and agents go through Metrics, which takes a
// consistent snapshot instead of sharing a lock with the commit path.
//
// All monetary values use shopspring/decimal — never float64 for money.
package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Portfolio is an agent's financial state. The zero value is not usable;
// construct with New.
type Portfolio struct {
	mu sync.RWMutex

	cash           decimal.Decimal
	positions      map[string]int64
	costBasis      map[string]decimal.Decimal
	realizedPnL    decimal.Decimal
	tradeCount     int
	initialCapital decimal.Decimal
}

// Metrics is a derived, read-only performance view.
type Metrics struct {
	Cash           decimal.Decimal  `json:"cash"`
	Positions      map[string]int64 `json:"positions"`
	RealizedPnL    decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal  `json:"unrealized_pnl"`
	TotalPnL       decimal.Decimal  `json:"total_pnl"`
	PortfolioValue decimal.Decimal  `json:"portfolio_value"`
	ROI            decimal.Decimal  `json:"roi"`
	TradeCount     int              `json:"trade_count"`
}

// New creates a portfolio holding only cash.
func New(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:           initialCash,
		positions:      make(map[string]int64),
		costBasis:      make(map[string]decimal.Decimal),
		initialCapital: initialCash,
	}
}

// ExecuteBuy settles the buy side of a matched trade: debits qty*price from
// cash and folds the fill into the weighted-average cost basis. Returns
// false without mutating anything when cash is insufficient.
func (p *Portfolio) ExecuteBuy(asset string, qty int64, price decimal.Decimal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := price.Mul(decimal.NewFromInt(qty))
	if p.cash.LessThan(cost) {
		return false
	}

	p.cash = p.cash.Sub(cost)
	p.addPosition(asset, qty, price)
	p.tradeCount++
	return true
}

// ExecuteSell settles the sell side: credits qty*price to cash, realizes
// (price - basis)*qty, and decrements the position, dropping the asset
// entry and its basis at zero. Returns false without mutating anything when
// the held quantity is insufficient.
func (p *Portfolio) ExecuteSell(asset string, qty int64, price decimal.Decimal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.positions[asset]
	if held < qty {
		return false
	}

	q := decimal.NewFromInt(qty)
	basis := p.costBasis[asset]
	p.realizedPnL = p.realizedPnL.Add(price.Sub(basis).Mul(q))
	p.cash = p.cash.Add(price.Mul(q))

	if held == qty {
		delete(p.positions, asset)
		delete(p.costBasis, asset)
	} else {
		p.positions[asset] = held - qty
	}
	p.tradeCount++
	return true
}

// SeedPosition converts cash into initial inventory at the given basis,
// preserving total portfolio value. Non-positive quantities or prices and
// unaffordable seeds are ignored. Does not count as a trade.
func (p *Portfolio) SeedPosition(asset string, qty int64, price decimal.Decimal) {
	if qty <= 0 || !price.IsPositive() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cost := price.Mul(decimal.NewFromInt(qty))
	if p.cash.LessThan(cost) {
		return
	}
	p.cash = p.cash.Sub(cost)
	p.addPosition(asset, qty, price)
}

// addPosition folds qty units at price into the weighted-average cost
// basis. Caller holds p.mu.
func (p *Portfolio) addPosition(asset string, qty int64, price decimal.Decimal) {
	currentQty := p.positions[asset]
	currentBasis := p.costBasis[asset]

	totalQty := currentQty + qty
	totalValue := currentBasis.Mul(decimal.NewFromInt(currentQty)).
		Add(price.Mul(decimal.NewFromInt(qty)))

	p.positions[asset] = totalQty
	p.costBasis[asset] = totalValue.Div(decimal.NewFromInt(totalQty))
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Position returns the held quantity of one asset.
func (p *Portfolio) Position(asset string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[asset]
}

// RealizedPnL returns the locked-in profit from closed positions.
func (p *Portfolio) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// Metrics marks all positions to the supplied prices and returns the full
// performance view. Assets without a quote are marked at their cost basis
// for unrealized P&L and at zero for portfolio value, matching how a
// missing quote is treated elsewhere in the system.
func (p *Portfolio) Metrics(currentPrices map[string]decimal.Decimal) Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	unrealized := decimal.Zero
	positionValue := decimal.Zero
	positions := make(map[string]int64, len(p.positions))

	for asset, qty := range p.positions {
		positions[asset] = qty
		q := decimal.NewFromInt(qty)
		basis := p.costBasis[asset]

		mark, ok := currentPrices[asset]
		if ok {
			positionValue = positionValue.Add(mark.Mul(q))
		} else {
			mark = basis
		}
		unrealized = unrealized.Add(mark.Sub(basis).Mul(q))
	}

	total := p.realizedPnL.Add(unrealized)
	roi := decimal.Zero
	if p.initialCapital.IsPositive() {
		roi = total.Div(p.initialCapital).Mul(decimal.NewFromInt(100))
	}

	return Metrics{
		Cash:           p.cash,
		Positions:      positions,
		RealizedPnL:    p.realizedPnL,
		UnrealizedPnL:  unrealized,
		TotalPnL:       total,
		PortfolioValue: p.cash.Add(positionValue),
		ROI:            roi,
		TradeCount:     p.tradeCount,
	}
}
