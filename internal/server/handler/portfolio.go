package handler

import (
	"net/http"

	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/indexer"
)

const defaultPortfolioTrades = 20

// PortfolioHandler serves an owner's aggregate view.
type PortfolioHandler struct {
	mirror domain.MirrorStore
}

func NewPortfolioHandler(mirror domain.MirrorStore) *PortfolioHandler {
	return &PortfolioHandler{mirror: mirror}
}

// Stats aggregates the owner's agents.
// GET /api/portfolio/stats?owner=0x...
func (h *PortfolioHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"), "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner required: "+err.Error())
		return
	}
	stats, err := indexer.PortfolioStats(r.Context(), h.mirror, owner)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Trades returns the owner's most recent trades across all agents.
// GET /api/portfolio/trades?owner=0x...&limit=20
func (h *PortfolioHandler) Trades(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"), "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner required: "+err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.URL.Query().Get("limit") == "" {
		opts.Limit = defaultPortfolioTrades
	}
	trades, err := h.mirror.ListTradesByOwner(r.Context(), owner, opts)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if trades == nil {
		trades = []domain.MirrorTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
