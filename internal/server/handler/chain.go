package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/system"
)

// ChainReader is the authoritative state the chain routes read.
type ChainReader interface {
	Agent(addr common.Address) (system.AgentState, error)
	Markets() []system.MarketState
	Info() system.Info
}

// ChainHandler serves authoritative contract state, bypassing the mirror.
type ChainHandler struct {
	core ChainReader
}

func NewChainHandler(core ChainReader) *ChainHandler {
	return &ChainHandler{core: core}
}

// GetAgent returns config, metrics and open positions.
// GET /api/chain/agents/{address}
func (h *ChainHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.PathValue("address"), "agent address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.core.Agent(addr)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetConstraints returns the global trading bounds and the breaker state.
// GET /api/chain/constraints
func (h *ChainHandler) GetConstraints(w http.ResponseWriter, r *http.Request) {
	info := h.core.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"constraints":         info.Constraints,
		"globalTradingPaused": info.GlobalTradingPaused,
	})
}

// ListMarkets returns registered markets with live venue prices.
// GET /api/chain/markets
func (h *ChainHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.core.Markets()
	if markets == nil {
		markets = []system.MarketState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// GetInfo returns the deployment summary.
// GET /api/chain/info
func (h *ChainHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Info())
}
