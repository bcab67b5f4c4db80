package sim

import (
	"context"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/agorasim/trading-core/internal/model"
)

// RandomWalkDecider is a development decision source that quotes around the
// last trade price with a small random drift. It exists to exercise the
// decide/commit pipeline without an external decision service; it never
// pretends to be a strategy.
//
// Each agent gets its own instance: the embedded rng is not safe for
// concurrent use.
type RandomWalkDecider struct {
	rng *rand.Rand
	// MaxDriftBps bounds the quoted distance from the last price, in basis
	// points. Zero means the default of 500 (5%).
	MaxDriftBps int
}

// NewRandomWalkDecider creates a decider with its own seeded rng.
func NewRandomWalkDecider(seed int64) *RandomWalkDecider {
	return &RandomWalkDecider{rng: rand.New(rand.NewSource(seed))}
}

func (rw *RandomWalkDecider) Decide(_ context.Context, state model.MarketState, asset string) (Decision, error) {
	maxBps := rw.MaxDriftBps
	if maxBps <= 0 {
		maxBps = 500
	}

	var action model.Action
	switch rw.rng.Intn(3) {
	case 0:
		action = model.ActionBuy
	case 1:
		action = model.ActionSell
	default:
		action = model.ActionHold
	}

	// Drift in (-maxBps, +maxBps), applied multiplicatively.
	bps := rw.rng.Intn(2*maxBps+1) - maxBps
	drift := decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10_000))
	price := state.CurrentPrice.Mul(decimal.NewFromInt(1).Add(drift))
	if !price.IsPositive() {
		price = state.CurrentPrice
	}

	return Decision{
		Action:    action,
		Asset:     asset,
		Price:     price,
		Rationale: "random walk around last price",
	}, nil
}
