// Package sim drives the simulation loop: each tick it fetches proposed
// actions from a batch of agents concurrently, then commits them through
// the market engine one at a time.
//
// The decision phase is I/O-bound and may suspend arbitrarily long, so it
// runs under a per-call timeout and an injected rate limiter; a decision
// that fails or times out is simply not submitted, equivalent to a hold.
// The commit phase (negotiate, match, settle, persist) is serialized so no
// two commits interleave on shared state.
//
// The decision source itself is an external collaborator behind the Decider
// interface; its output is consumed as an opaque tuple and its rationale is
// stored in the interaction log without inspection.
package sim

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agorasim/trading-core/internal/engine"
	"github.com/agorasim/trading-core/internal/ledger"
	"github.com/agorasim/trading-core/internal/metrics"
	"github.com/agorasim/trading-core/internal/model"
	"github.com/agorasim/trading-core/internal/portfolio"
	"github.com/agorasim/trading-core/internal/ratelimit"
)

// Decision is a proposed action for one tick. Rationale is opaque metadata.
type Decision struct {
	Action    model.Action
	Asset     string
	Price     decimal.Decimal
	Rationale string
}

// Decider produces one decision per tick for one agent.
type Decider interface {
	Decide(ctx context.Context, state model.MarketState, asset string) (Decision, error)
}

// Agent couples an identity, its portfolio, and its decision source.
type Agent struct {
	ID        string
	Portfolio *portfolio.Portfolio
	Decider   Decider
}

// Config holds the loop's tunables.
type Config struct {
	// TickInterval is the minimum wall-clock spacing between ticks.
	TickInterval time.Duration
	// AgentsPerTick is how many agents act each tick.
	AgentsPerTick int
	// DecisionTimeout bounds one decider call.
	DecisionTimeout time.Duration
	// Seed seeds the loop's randomness (batch order and asset choice).
	// Zero means time-based.
	Seed int64
}

// DefaultConfig returns the standard loop parameters.
func DefaultConfig() Config {
	return Config{
		TickInterval:    2 * time.Second,
		AgentsPerTick:   4,
		DecisionTimeout: 30 * time.Second,
	}
}

// Runner owns the loop state.
type Runner struct {
	engine  *engine.Engine
	ledger  ledger.Ledger
	agents  []*Agent
	limiter *ratelimit.Limiter
	cfg     Config
	rng     *rand.Rand

	tickCount int
}

// NewRunner creates a runner. The limiter may be nil for no rate limiting.
func NewRunner(eng *engine.Engine, led ledger.Ledger, agents []*Agent, limiter *ratelimit.Limiter, cfg Config) *Runner {
	if cfg.AgentsPerTick <= 0 {
		cfg.AgentsPerTick = len(agents)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Runner{
		engine:  eng,
		ledger:  led,
		agents:  agents,
		limiter: limiter,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Run ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("simulation started",
		"agents", len(r.agents),
		"per_tick", r.cfg.AgentsPerTick,
		"interval", r.cfg.TickInterval.String(),
	)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		r.Tick(ctx)

		select {
		case <-ctx.Done():
			slog.Info("simulation stopped", "ticks", r.tickCount)
			return
		case <-ticker.C:
		}
	}
}

// decided pairs an agent with its fetched decision.
type decided struct {
	agent    *Agent
	decision Decision
}

// Tick runs one round: concurrent decide, then serialized commit.
func (r *Runner) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()
	r.tickCount++

	batch := r.pickBatch()

	// Assets are drawn from the runner's seeded source before the fan-out,
	// so the goroutines never touch r.rng.
	assets := make([]string, len(batch))
	for i := range batch {
		assets[i] = model.SupportedAssets[r.rng.Intn(len(model.SupportedAssets))]
	}

	// Decide phase: one goroutine per agent, bounded by the rate limiter
	// and the per-call timeout. Results land in fixed slots, no locking.
	results := make([]*decided, len(batch))
	var wg sync.WaitGroup
	for i, agent := range batch {
		wg.Add(1)
		go func(slot int, a *Agent) {
			defer wg.Done()

			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return
				}
			}

			asset := assets[slot]
			state := r.engine.GetState(asset)

			dctx, cancel := context.WithTimeout(ctx, r.cfg.DecisionTimeout)
			defer cancel()

			d, err := a.Decider.Decide(dctx, state, asset)
			if err != nil {
				slog.Warn("decision failed, treating as hold", "agent", a.ID, "err", err)
				return
			}
			results[slot] = &decided{agent: a, decision: d}
		}(i, agent)
	}
	wg.Wait()

	// Commit phase: strictly serial. The engine additionally locks per
	// asset, but serializing here keeps the tick's trade ordering equal to
	// its decision ordering.
	for _, res := range results {
		if res == nil || ctx.Err() != nil {
			continue
		}
		r.commit(ctx, res.agent, res.decision)
	}
}

// commit negotiates, submits, and records one agent's decision.
func (r *Runner) commit(ctx context.Context, agent *Agent, d Decision) {
	price := d.Price

	if !d.Action.IsNoOp() {
		negotiated, record := r.engine.NegotiatePrice(agent.ID, d.Action, d.Asset, price)
		if record != nil {
			if err := r.ledger.RecordInteraction(ctx, record); err != nil {
				slog.Error("failed to record negotiation", "agent", agent.ID, "err", err)
			}
			price = negotiated
		}
	}

	tx, err := r.engine.ProcessAction(ctx, agent.ID, agent.Portfolio, d.Action, d.Asset, price)
	if err != nil {
		// Persistence failure: the trade did not happen as far as anyone
		// is concerned, but the loop itself keeps running.
		slog.Error("action failed", "agent", agent.ID, "err", err)
		return
	}

	il := &model.InteractionLog{
		ID:        uuid.New().String(),
		Kind:      model.InteractionAction,
		AgentID:   agent.ID,
		Action:    d.Action,
		Asset:     d.Asset,
		Price:     price,
		Details:   d.Rationale,
		RunID:     r.engine.RunID(),
		Timestamp: time.Now().UTC(),
	}
	if tx != nil {
		il.CounterpartyID = counterparty(tx, agent.ID)
	}
	if err := r.ledger.RecordInteraction(ctx, il); err != nil {
		slog.Error("failed to record action", "agent", agent.ID, "err", err)
	}
}

// pickBatch shuffles the agents and returns this tick's actors.
func (r *Runner) pickBatch() []*Agent {
	shuffled := make([]*Agent, len(r.agents))
	copy(shuffled, r.agents)
	r.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if len(shuffled) > r.cfg.AgentsPerTick {
		shuffled = shuffled[:r.cfg.AgentsPerTick]
	}
	return shuffled
}

func counterparty(tx *model.Transaction, agentID string) string {
	if tx.BuyerID == agentID {
		return tx.SellerID
	}
	return tx.BuyerID
}
