package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// AgentHandler serves agent wallets, positions and trades from the mirror.
type AgentHandler struct {
	mirror domain.MirrorStore
	logger *slog.Logger
}

func NewAgentHandler(mirror domain.MirrorStore, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{mirror: mirror, logger: logger}
}

// agentView adds the derived win rate to the mirror record.
type agentView struct {
	domain.MirrorAgent
	WinRate float64 `json:"winRate"`
}

func viewOf(a domain.MirrorAgent) agentView {
	return agentView{MirrorAgent: a, WinRate: a.WinRate()}
}

// ListAgents lists every agent, or one owner's.
// GET /api/agents?owner=0x...
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	var owner common.Address
	if v := r.URL.Query().Get("owner"); v != "" {
		addr, err := parseAddress(v, "owner")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		owner = addr
	}
	agents, err := h.mirror.ListAgents(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list agents failed",
			slog.String("error", err.Error()),
		)
		writeFailure(w, err)
		return
	}
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, viewOf(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// GetAgent returns one agent.
// GET /api/agents/{address}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.PathValue("address"), "agent address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.mirror.GetAgent(r.Context(), addr)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

// ListPositions returns an agent's positions; open=true limits to open ones.
// GET /api/agents/{address}/positions?open=true
func (h *AgentHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.PathValue("address"), "agent address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	openOnly := r.URL.Query().Get("open") == "true"
	positions, err := h.mirror.ListPositions(r.Context(), addr, openOnly)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if positions == nil {
		positions = []domain.MirrorPosition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// ListTrades returns an agent's trades, newest first.
// GET /api/agents/{address}/trades?limit=50&offset=0
func (h *AgentHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.PathValue("address"), "agent address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.mirror.ListTrades(r.Context(), addr, opts)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if trades == nil {
		trades = []domain.MirrorTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
