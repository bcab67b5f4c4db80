// Package server provides the HTTP surface of the trading core: market
// state and order book snapshots, action submission, portfolio metrics,
// and ledger queries for the presentation layer.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agorasim/trading-core/internal/engine"
	"github.com/agorasim/trading-core/internal/ledger"
	"github.com/agorasim/trading-core/internal/model"
	"github.com/agorasim/trading-core/internal/portfolio"
)

// Service handles the HTTP API. The agent registry is fixed at
// construction: agents exist for the lifetime of one simulation run.
type Service struct {
	engine *engine.Engine
	ledger ledger.Ledger
	agents map[string]*portfolio.Portfolio
	wsHub  *WSHub // optional
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(eng *engine.Engine, led ledger.Ledger, agents map[string]*portfolio.Portfolio, hub *WSHub) *Service {
	return &Service{
		engine: eng,
		ledger: led,
		agents: agents,
		wsHub:  hub,
	}
}

// Mount registers all API routes on the router.
func (s *Service) Mount(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/market/{asset}", s.GetMarketState)
	r.Post("/actions", s.SubmitAction)
	r.Get("/portfolio/{agentID}", s.GetPortfolio)
	r.Get("/ledger/transactions", s.GetTransactions)
	r.Get("/ledger/interactions", s.GetInteractions)
}

// --- Request/Response types ---

// ActionRequest is the JSON body for POST /actions. Price accepts a JSON
// number or string; rationale is opaque and only stored.
type ActionRequest struct {
	AgentID   string          `json:"agent_id"`
	Action    model.Action    `json:"action"`
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Rationale string          `json:"rationale"`
}

// ActionResponse reports what one submitted action did.
type ActionResponse struct {
	Executed       bool               `json:"executed"`
	EffectivePrice decimal.Decimal    `json:"effective_price"`
	Negotiated     bool               `json:"negotiated"`
	Transaction    *model.Transaction `json:"transaction,omitempty"`
	MarketState    model.MarketState  `json:"market_state"`
}

// --- HTTP Handlers ---

// GetMarketState handles GET /api/v1/market/{asset}.
// Unknown assets redirect to the default asset, mirroring the engine.
func (s *Service) GetMarketState(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	writeJSON(w, http.StatusOK, s.engine.GetState(asset))
}

// SubmitAction handles POST /api/v1/actions. It runs the full pipeline for
// one proposed action: negotiate, submit, record. Malformed market input
// (unknown asset, bad price) resolves to executed=false, not an error —
// only an unknown agent or a persistence failure produces an error status.
func (s *Service) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		writeError(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	pf, ok := s.agents[req.AgentID]
	if !ok {
		writeError(w, "unknown agent: "+req.AgentID, http.StatusNotFound)
		return
	}

	ctx := r.Context()
	price := req.Price
	negotiated := false

	if !req.Action.IsNoOp() {
		counter, record := s.engine.NegotiatePrice(req.AgentID, req.Action, req.Asset, price)
		if record != nil {
			if err := s.ledger.RecordInteraction(ctx, record); err != nil {
				writeError(w, "failed to record negotiation", http.StatusInternalServerError)
				return
			}
			price = counter
			negotiated = true
		}
	}

	tx, err := s.engine.ProcessAction(ctx, req.AgentID, pf, req.Action, req.Asset, price)
	if err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}

	il := &model.InteractionLog{
		ID:        uuid.New().String(),
		Kind:      model.InteractionAction,
		AgentID:   req.AgentID,
		Action:    req.Action,
		Asset:     req.Asset,
		Price:     price,
		Details:   req.Rationale,
		RunID:     s.engine.RunID(),
		Timestamp: time.Now().UTC(),
	}
	if tx != nil {
		if tx.BuyerID == req.AgentID {
			il.CounterpartyID = tx.SellerID
		} else {
			il.CounterpartyID = tx.BuyerID
		}
	}
	if err := s.ledger.RecordInteraction(ctx, il); err != nil {
		slog.Error("failed to record action interaction", "agent", req.AgentID, "err", err)
	}

	writeJSON(w, http.StatusOK, ActionResponse{
		Executed:       tx != nil,
		EffectivePrice: price,
		Negotiated:     negotiated,
		Transaction:    tx,
		MarketState:    s.engine.GetState(req.Asset),
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{agentID}.
// Returns the agent's metrics marked at current market prices.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	pf, ok := s.agents[agentID]
	if !ok {
		writeError(w, "unknown agent: "+agentID, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, pf.Metrics(s.engine.CurrentPrices()))
}

// GetTransactions handles GET /api/v1/ledger/transactions?limit=&run_id=.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	limit, runID := queryParams(r)

	txs, err := s.ledger.Transactions(r.Context(), limit, runID)
	if err != nil {
		writeError(w, "failed to query transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetInteractions handles GET /api/v1/ledger/interactions?limit=&run_id=.
func (s *Service) GetInteractions(w http.ResponseWriter, r *http.Request) {
	limit, runID := queryParams(r)

	logs, err := s.ledger.Interactions(r.Context(), limit, runID)
	if err != nil {
		writeError(w, "failed to query interactions", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []model.InteractionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// --- helpers ---

func queryParams(r *http.Request) (limit int, runID string) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return limit, r.URL.Query().Get("run_id")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
