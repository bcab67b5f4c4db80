package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agorasim/trading-core/internal/engine"
	"github.com/agorasim/trading-core/internal/ledger"
	"github.com/agorasim/trading-core/internal/model"
	"github.com/agorasim/trading-core/internal/portfolio"
	"github.com/agorasim/trading-core/internal/ratelimit"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// scriptedDecider returns its decisions in order, then holds.
type scriptedDecider struct {
	decisions []Decision
	calls     int
}

func (s *scriptedDecider) Decide(_ context.Context, _ model.MarketState, asset string) (Decision, error) {
	if s.calls < len(s.decisions) {
		dec := s.decisions[s.calls]
		s.calls++
		return dec, nil
	}
	return Decision{Action: model.ActionHold, Asset: asset}, nil
}

// failingDecider always errors.
type failingDecider struct{}

func (failingDecider) Decide(context.Context, model.MarketState, string) (Decision, error) {
	return Decision{}, errors.New("model unavailable")
}

func newAgent(id string, dec Decider) *Agent {
	pf := portfolio.New(d(10_000))
	pf.SeedPosition("AAPL", 10, d(0.005))
	pf.SeedPosition("TSLA", 10, d(0.005))
	return &Agent{ID: id, Portfolio: pf, Decider: dec}
}

func testConfig() Config {
	return Config{
		TickInterval:    time.Millisecond,
		AgentsPerTick:   8,
		DecisionTimeout: time.Second,
	}
}

func TestTick_CrossingDecisionsTrade(t *testing.T) {
	led := ledger.NewMemoryLedger()
	eng := engine.New(led, "sim-test", d(0.005))

	seller := newAgent("seller", &scriptedDecider{decisions: []Decision{
		{Action: model.ActionSell, Asset: "AAPL", Price: d(0.004), Rationale: "take profit"},
	}})
	buyer := newAgent("buyer", &scriptedDecider{decisions: []Decision{
		{Action: model.ActionBuy, Asset: "AAPL", Price: d(0.006), Rationale: "momentum"},
	}})

	r := NewRunner(eng, led, []*Agent{seller, buyer}, nil, testConfig())
	ctx := context.Background()

	// Two ticks: order of commits within a tick is shuffled, so the cross
	// may need the second tick when the buy commits before the sell rests.
	r.Tick(ctx)
	r.Tick(ctx)

	txs, err := led.Transactions(ctx, 10, "sim-test")
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) == 0 {
		// Both decisions were consumed; at minimum both interactions exist
		// and at least one order rests.
		s := eng.GetState("AAPL").OrderBookSummary
		if s.BidsCount+s.AsksCount == 0 {
			t.Fatal("decisions were neither traded nor rested")
		}
	} else {
		if txs[0].BuyerID != "buyer" || txs[0].SellerID != "seller" {
			t.Errorf("wrong parties: %s / %s", txs[0].BuyerID, txs[0].SellerID)
		}
	}

	logs, _ := led.Interactions(ctx, 10, "sim-test")
	if len(logs) == 0 {
		t.Error("committed decisions must leave interaction records")
	}
	for _, il := range logs {
		if il.Kind == model.InteractionAction && il.Details == "" {
			t.Error("action records must carry the rationale as details")
		}
	}
}

func TestTick_DecisionFailureIsHold(t *testing.T) {
	led := ledger.NewMemoryLedger()
	eng := engine.New(led, "sim-test", d(0.005))

	a := newAgent("flaky", failingDecider{})
	r := NewRunner(eng, led, []*Agent{a}, nil, testConfig())

	r.Tick(context.Background())

	s := eng.GetState("AAPL").OrderBookSummary
	if s.BidsCount+s.AsksCount != 0 {
		t.Error("failed decision must not submit anything")
	}
	logs, _ := led.Interactions(context.Background(), 10, "")
	if len(logs) != 0 {
		t.Errorf("failed decision leaves no interaction record, got %d", len(logs))
	}
}

func TestTick_RespectsRateLimiter(t *testing.T) {
	led := ledger.NewMemoryLedger()
	eng := engine.New(led, "sim-test", d(0.005))

	deciderCalls := 0
	counting := &scriptedDecider{}
	a := &Agent{ID: "a", Portfolio: portfolio.New(d(100)), Decider: deciderFunc(func(ctx context.Context, st model.MarketState, asset string) (Decision, error) {
		deciderCalls++
		return counting.Decide(ctx, st, asset)
	})}

	// One slot per hour: the second tick's decide must be cut off by ctx.
	lim := ratelimit.New(1, time.Hour)
	r := NewRunner(eng, led, []*Agent{a}, lim, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Tick(ctx)
	r.Tick(ctx)

	if deciderCalls != 1 {
		t.Errorf("limiter should admit exactly one decision, got %d", deciderCalls)
	}
}

// deciderFunc adapts a function to the Decider interface.
type deciderFunc func(context.Context, model.MarketState, string) (Decision, error)

func (f deciderFunc) Decide(ctx context.Context, st model.MarketState, asset string) (Decision, error) {
	return f(ctx, st, asset)
}

func TestTick_NegotiationRecorded(t *testing.T) {
	led := ledger.NewMemoryLedger()
	eng := engine.New(led, "sim-test", d(0.005))

	// Rest an ask at 6 directly through the engine.
	resting := portfolio.New(d(100))
	resting.SeedPosition("AAPL", 1, d(6))
	eng.ProcessAction(context.Background(), "maker", resting, model.ActionSell, "AAPL", d(6))

	// Agent bids 4: negotiation should counter at 5 and record it.
	a := newAgent("taker", &scriptedDecider{decisions: []Decision{
		{Action: model.ActionBuy, Asset: "AAPL", Price: d(4), Rationale: "bargain hunting"},
	}})
	r := NewRunner(eng, led, []*Agent{a}, nil, testConfig())
	r.Tick(context.Background())

	logs, _ := led.Interactions(context.Background(), 10, "sim-test")
	var negotiated *model.InteractionLog
	for i := range logs {
		if logs[i].Kind == model.InteractionNegotiation {
			negotiated = &logs[i]
		}
	}
	if negotiated == nil {
		t.Fatal("expected a negotiation record")
	}
	if !negotiated.Price.Equal(d(5)) {
		t.Errorf("expected counter price 5, got %s", negotiated.Price)
	}
}

func TestTick_SeededRandomnessIsReproducible(t *testing.T) {
	run := func(seed int64) map[string][]string {
		led := ledger.NewMemoryLedger()
		eng := engine.New(led, "sim-test", d(0.005))

		var mu sync.Mutex
		seen := make(map[string][]string)
		recorder := func(id string) Decider {
			return deciderFunc(func(_ context.Context, _ model.MarketState, asset string) (Decision, error) {
				mu.Lock()
				seen[id] = append(seen[id], asset)
				mu.Unlock()
				return Decision{Action: model.ActionHold, Asset: asset}, nil
			})
		}

		agents := []*Agent{
			newAgent("a", recorder("a")),
			newAgent("b", recorder("b")),
			newAgent("c", recorder("c")),
		}
		cfg := testConfig()
		cfg.Seed = seed
		r := NewRunner(eng, led, agents, nil, cfg)
		for i := 0; i < 5; i++ {
			r.Tick(context.Background())
		}
		return seen
	}

	first := run(7)
	second := run(7)
	for id, assets := range first {
		if len(second[id]) != len(assets) {
			t.Fatalf("agent %s: runs diverged in length", id)
		}
		for i, asset := range assets {
			if second[id][i] != asset {
				t.Fatalf("agent %s tick %d: seeded runs must pick the same assets, got %s vs %s",
					id, i, asset, second[id][i])
			}
		}
	}
}

func TestRandomWalkDecider(t *testing.T) {
	rw := NewRandomWalkDecider(42)
	state := model.MarketState{Asset: "AAPL", CurrentPrice: d(0.005)}

	for i := 0; i < 200; i++ {
		dec, err := rw.Decide(context.Background(), state, "AAPL")
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if !dec.Price.IsPositive() {
			t.Fatalf("quoted price must stay positive, got %s", dec.Price)
		}
		// Within 5% of last price.
		lo, hi := d(0.00475), d(0.00525)
		if dec.Price.LessThan(lo) || dec.Price.GreaterThan(hi) {
			t.Fatalf("price %s outside drift bounds [%s, %s]", dec.Price, lo, hi)
		}
	}
}
