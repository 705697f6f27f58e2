package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// MarketHandler serves markets from the mirror.
type MarketHandler struct {
	mirror domain.MirrorStore
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given store and logger.
func NewMarketHandler(mirror domain.MirrorStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{mirror: mirror, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.MirrorMarket `json:"markets"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// ListMarkets returns markets in registration order.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets, err := h.mirror.ListMarkets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeFailure(w, err)
		return
	}
	if markets == nil {
		markets = []domain.MirrorMarket{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := parseMarketID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.mirror.GetMarket(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
