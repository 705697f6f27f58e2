package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// ArchiveTrigger runs one archive pass.
type ArchiveTrigger interface {
	RunOnce(ctx context.Context) (int64, error)
}

// AdminHandler serves operator routes. They sit behind API-key auth.
type AdminHandler struct {
	audit   domain.AuditStore
	archive ArchiveTrigger
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archive may be nil when no object
// store is configured.
func NewAdminHandler(audit domain.AuditStore, archive ArchiveTrigger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{audit: audit, archive: archive, logger: logger}
}

// ListAudit returns audit entries, newest first.
// GET /api/admin/audit?limit=50&since=...&event=tx.
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Event = r.URL.Query().Get("event")
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// TriggerArchive runs an archive pass now.
// POST /api/admin/archive
func (h *AdminHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archival is not configured")
		return
	}
	n, err := h.archive.RunOnce(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive failed",
			slog.String("error", err.Error()),
		)
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": n})
}
