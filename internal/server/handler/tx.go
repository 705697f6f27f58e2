package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/crypto"
	"github.com/alanyoungcy/agentvault/internal/server/middleware"
)

const maxEnvelopeBytes = 64 << 10

// TxSubmitter admits and executes call envelopes.
type TxSubmitter interface {
	Submit(ctx context.Context, env crypto.Envelope) (*chain.Receipt, error)
}

// TxHandler accepts call envelopes.
type TxHandler struct {
	txs    TxSubmitter
	logger *slog.Logger
}

func NewTxHandler(txs TxSubmitter, logger *slog.Logger) *TxHandler {
	return &TxHandler{txs: txs, logger: logger}
}

// Submit executes one envelope and returns its receipt.
// POST /api/tx
func (h *TxHandler) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxEnvelopeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "envelope too large")
		return
	}
	var env crypto.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "decode envelope: "+err.Error())
		return
	}

	receipt, err := h.txs.Submit(r.Context(), env)
	if err != nil {
		status, eb := StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: submit failed",
				slog.String("request_id", middleware.RequestID(r.Context())),
				slog.String("method", env.Method),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, status, eb)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
