// Package model defines the core domain types shared across the trading
// substrate. All monetary values use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is an agent's proposed market action for one tick.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
	// ActionReflection is an internal agent state update with no market
	// impact; treated exactly like a hold by the engine.
	ActionReflection Action = "reflection"
)

// IsNoOp reports whether the action never touches the order book.
func (a Action) IsNoOp() bool {
	return a == ActionHold || a == ActionReflection
}

// QuoteCurrency is the single settlement currency. All prices are
// denominated in it.
const QuoteCurrency = "BTC"

// SupportedAssets are the tradable symbols. The engine owns one order book
// per entry; the first entry is the default asset that unknown symbols
// redirect to.
var SupportedAssets = []string{"AAPL", "TSLA"}

// DefaultAsset returns the fallback symbol for out-of-range asset requests.
func DefaultAsset() string { return SupportedAssets[0] }

// IsSupportedAsset reports whether the symbol has an order book.
func IsSupportedAsset(asset string) bool {
	for _, a := range SupportedAssets {
		if a == asset {
			return true
		}
	}
	return false
}

// DefaultSeedPrice is the last-trade price every asset starts at before any
// trade has printed.
var DefaultSeedPrice = decimal.NewFromFloat(0.005)

// Transaction is an immutable record of an executed trade. It is created
// only when a book match and the acting agent's portfolio settlement both
// succeeded, and is persisted exactly once.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	BuyerID   string          `json:"buyer_id" db:"buyer_id"`
	SellerID  string          `json:"seller_id" db:"seller_id"`
	Asset     string          `json:"asset" db:"asset"`
	Price     decimal.Decimal `json:"price" db:"price"`
	RunID     string          `json:"run_id,omitempty" db:"run_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Interaction kinds.
const (
	InteractionAction      = "action"
	InteractionNegotiation = "negotiation"
)

// InteractionLog is the soft audit trail: agent actions and negotiation
// offers, recorded even when no trade results.
type InteractionLog struct {
	ID             string          `json:"id" db:"id"`
	Kind           string          `json:"kind" db:"kind"`
	AgentID        string          `json:"agent_id" db:"agent_id"`
	CounterpartyID string          `json:"counterparty_id,omitempty" db:"counterparty_id"`
	Action         Action          `json:"action" db:"action"`
	Asset          string          `json:"asset" db:"asset"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Details        string          `json:"details" db:"details"`
	RunID          string          `json:"run_id,omitempty" db:"run_id"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// BookSummary is a public snapshot of one asset's order book.
// Best quotes are nil when the side is empty.
type BookSummary struct {
	BestBid   *decimal.Decimal `json:"best_bid"`
	BestAsk   *decimal.Decimal `json:"best_ask"`
	BidsCount int              `json:"bids_count"`
	AsksCount int              `json:"asks_count"`
}

// MarketState is the read-only snapshot handed to agents and the
// presentation layer. Derived, never stored.
type MarketState struct {
	Asset            string          `json:"asset"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	OrderBookSummary BookSummary     `json:"order_book_summary"`
}
