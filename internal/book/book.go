// Package book implements a single-asset limit order book with
// price-time-priority matching.
//
// Bids and asks are kept in ordered B-trees keyed by (price, submission
// sequence): bids by price descending, asks by price ascending, and FIFO
// among equal prices via a monotonically increasing sequence number. The
// best order of each side is the tree minimum, so matching and quoting are
// O(log n) and O(1) respectively.
//
// The book has no knowledge of money or persistence: a match yields only
// the two owners and the execution price. Every match is for one implicit
// unit — there are no partial fills and no cancellation.
//
// A Book is not safe for concurrent use; the market engine serializes
// access per asset.
package book

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/agorasim/trading-core/internal/model"
)

// Side of a resting order.
type Side int

const (
	Bid Side = iota + 1
	Ask
)

// Match is the outcome of crossing an incoming order with the best resting
// counter-order. Price is always the resting (maker) order's price.
type Match struct {
	Buyer  string
	Seller string
	Price  decimal.Decimal
	Maker  Side // side of the resting order that was consumed
}

// resting is one order waiting in the book. Immutable once inserted;
// removed atomically when matched.
type resting struct {
	price decimal.Decimal
	seq   uint64
	owner string
}

// Book is the per-asset matching structure.
type Book struct {
	asset string
	seq   uint64
	bids  *btree.BTreeG[resting] // best bid (highest price) at Min
	asks  *btree.BTreeG[resting] // best ask (lowest price) at Min
}

// New creates an empty book for one asset.
func New(asset string) *Book {
	return &Book{
		asset: asset,
		bids: btree.NewBTreeG(func(a, b resting) bool {
			if !a.price.Equal(b.price) {
				return a.price.GreaterThan(b.price)
			}
			return a.seq < b.seq
		}),
		asks: btree.NewBTreeG(func(a, b resting) bool {
			if !a.price.Equal(b.price) {
				return a.price.LessThan(b.price)
			}
			return a.seq < b.seq
		}),
	}
}

// Asset returns the symbol this book matches.
func (b *Book) Asset() string { return b.asset }

// SubmitBuy processes a bid limited at price. If the best resting ask is at
// or below the limit, that ask is consumed and the trade executes at the
// ask's price. Otherwise the bid rests. The caller guarantees price > 0.
func (b *Book) SubmitBuy(owner string, price decimal.Decimal) *Match {
	if best, ok := b.asks.Min(); ok && best.price.LessThanOrEqual(price) {
		b.asks.PopMin()
		return &Match{Buyer: owner, Seller: best.owner, Price: best.price, Maker: Ask}
	}
	b.seq++
	b.bids.Set(resting{price: price, seq: b.seq, owner: owner})
	return nil
}

// SubmitSell processes an ask limited at price, matching against the best
// resting bid at or above the limit. Execution is at the bid's price.
func (b *Book) SubmitSell(owner string, price decimal.Decimal) *Match {
	if best, ok := b.bids.Min(); ok && best.price.GreaterThanOrEqual(price) {
		b.bids.PopMin()
		return &Match{Buyer: best.owner, Seller: owner, Price: best.price, Maker: Bid}
	}
	b.seq++
	b.asks.Set(resting{price: price, seq: b.seq, owner: owner})
	return nil
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	if best, ok := b.bids.Min(); ok {
		return best.price, true
	}
	return decimal.Decimal{}, false
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	if best, ok := b.asks.Min(); ok {
		return best.price, true
	}
	return decimal.Decimal{}, false
}

// Summary snapshots the book for public feeds and agent observation.
func (b *Book) Summary() model.BookSummary {
	s := model.BookSummary{
		BidsCount: b.bids.Len(),
		AsksCount: b.asks.Len(),
	}
	if bid, ok := b.BestBid(); ok {
		s.BestBid = &bid
	}
	if ask, ok := b.BestAsk(); ok {
		s.BestAsk = &ask
	}
	return s
}
