package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agorasim/trading-core/internal/engine"
	"github.com/agorasim/trading-core/internal/ledger"
	"github.com/agorasim/trading-core/internal/model"
	"github.com/agorasim/trading-core/internal/portfolio"
	"github.com/agorasim/trading-core/internal/server"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates an API service with in-memory ledger, two funded
// agents, and a chi router.
func newTestEnv(t *testing.T) (*engine.Engine, *ledger.MemoryLedger, chi.Router) {
	t.Helper()
	led := ledger.NewMemoryLedger()
	eng := engine.New(led, "web-test", d(0.005))

	buyer := portfolio.New(d(10_000))
	seller := portfolio.New(d(10_000))
	seller.SeedPosition("AAPL", 10, d(5))

	svc := server.NewService(eng, led, map[string]*portfolio.Portfolio{
		"buyer":  buyer,
		"seller": seller,
	}, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Mount)
	return eng, led, r
}

func doAction(t *testing.T, router chi.Router, req server.ActionRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/actions", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func TestSubmitAction_TradeRoundTrip(t *testing.T) {
	_, led, router := newTestEnv(t)

	w := doAction(t, router, server.ActionRequest{
		AgentID: "seller", Action: model.ActionSell, Asset: "AAPL", Price: d(10),
		Rationale: "testing the rails",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp server.ActionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Executed {
		t.Fatal("resting sell must not execute")
	}

	w = doAction(t, router, server.ActionRequest{
		AgentID: "buyer", Action: model.ActionBuy, Asset: "AAPL", Price: d(11),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Executed || resp.Transaction == nil {
		t.Fatalf("crossing buy must execute: %+v", resp)
	}
	if !resp.Transaction.Price.Equal(d(10)) {
		t.Errorf("execution at maker price 10, got %s", resp.Transaction.Price)
	}

	txs, _ := led.Transactions(context.Background(), 10, "web-test")
	if len(txs) != 1 {
		t.Errorf("expected 1 persisted transaction, got %d", len(txs))
	}
	logs, _ := led.Interactions(context.Background(), 10, "web-test")
	if len(logs) != 2 {
		t.Errorf("expected 2 action interactions, got %d", len(logs))
	}
}

func TestSubmitAction_NegotiationAdjustsPrice(t *testing.T) {
	_, led, router := newTestEnv(t)

	doAction(t, router, server.ActionRequest{
		AgentID: "seller", Action: model.ActionSell, Asset: "AAPL", Price: d(6),
	})

	w := doAction(t, router, server.ActionRequest{
		AgentID: "buyer", Action: model.ActionBuy, Asset: "AAPL", Price: d(4),
	})
	var resp server.ActionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Negotiated {
		t.Fatal("buy below best ask should be negotiated")
	}
	if !resp.EffectivePrice.Equal(d(5)) {
		t.Errorf("expected midpoint 5, got %s", resp.EffectivePrice)
	}
	if resp.Executed {
		t.Error("counter at 5 still below ask 6, must rest")
	}

	logs, _ := led.Interactions(context.Background(), 10, "")
	var found bool
	for _, il := range logs {
		if il.Kind == model.InteractionNegotiation {
			found = true
		}
	}
	if !found {
		t.Error("negotiation must be recorded")
	}
}

func TestSubmitAction_MalformedMarketInputIsNoOp(t *testing.T) {
	_, led, router := newTestEnv(t)

	for _, req := range []server.ActionRequest{
		{AgentID: "buyer", Action: model.ActionBuy, Asset: "DOGE", Price: d(10)},
		{AgentID: "buyer", Action: model.ActionBuy, Asset: "AAPL", Price: d(-1)},
		{AgentID: "buyer", Action: model.ActionHold, Asset: "AAPL", Price: d(10)},
	} {
		w := doAction(t, router, req)
		if w.Code != http.StatusOK {
			t.Fatalf("malformed market input must not error, got %d: %s", w.Code, w.Body.String())
		}
		var resp server.ActionResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Executed {
			t.Errorf("request %+v must not execute", req)
		}
	}

	if txs, _ := led.Transactions(context.Background(), 10, ""); len(txs) != 0 {
		t.Errorf("no-ops must not persist transactions, got %d", len(txs))
	}
}

func TestSubmitAction_UnknownAgent(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doAction(t, router, server.ActionRequest{
		AgentID: "ghost", Action: model.ActionBuy, Asset: "AAPL", Price: d(10),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown agent, got %d", w.Code)
	}
}

func TestSubmitAction_InvalidBody(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/actions", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetMarketState(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/market/AAPL", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var state model.MarketState
	json.Unmarshal(w.Body.Bytes(), &state)
	if state.Asset != "AAPL" {
		t.Errorf("expected AAPL, got %s", state.Asset)
	}
	if !state.CurrentPrice.Equal(d(0.005)) {
		t.Errorf("expected seed price, got %s", state.CurrentPrice)
	}

	// Unknown assets redirect rather than 404.
	req = httptest.NewRequest("GET", "/api/v1/market/DOGE", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	json.Unmarshal(w.Body.Bytes(), &state)
	if w.Code != http.StatusOK || state.Asset != model.DefaultAsset() {
		t.Errorf("unknown asset must redirect, got %d / %s", w.Code, state.Asset)
	}
}

func TestGetPortfolio(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/portfolio/seller", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var m portfolio.Metrics
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.Positions["AAPL"] != 10 {
		t.Errorf("expected 10 AAPL, got %d", m.Positions["AAPL"])
	}

	req = httptest.NewRequest("GET", "/api/v1/portfolio/ghost", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestLedgerQueries(t *testing.T) {
	_, _, router := newTestEnv(t)

	doAction(t, router, server.ActionRequest{
		AgentID: "seller", Action: model.ActionSell, Asset: "AAPL", Price: d(10),
	})
	doAction(t, router, server.ActionRequest{
		AgentID: "buyer", Action: model.ActionBuy, Asset: "AAPL", Price: d(11),
	})

	req := httptest.NewRequest("GET", "/api/v1/ledger/transactions?run_id=web-test&limit=5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var txs []model.Transaction
	json.Unmarshal(w.Body.Bytes(), &txs)
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txs))
	}

	req = httptest.NewRequest("GET", "/api/v1/ledger/interactions", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var logs []model.InteractionLog
	json.Unmarshal(w.Body.Bytes(), &logs)
	if len(logs) != 2 {
		t.Errorf("expected 2 interactions, got %d", len(logs))
	}

	// Filtering an unknown run returns an empty array, not null.
	req = httptest.NewRequest("GET", "/api/v1/ledger/transactions?run_id=nope", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if body := w.Body.String(); body == "null\n" {
		t.Error("empty result must encode as [], not null")
	}
}
