package handlers

import (
	"net/http"

	"github.com/dvloznov/sheet-ledger/internal/api/middleware"
)

// ReconcileHandler exposes the group consistency sweep.
type ReconcileHandler struct {
	ledger Ledger
}

// NewReconcileHandler creates a new reconcile handler.
func NewReconcileHandler(l Ledger) *ReconcileHandler {
	return &ReconcileHandler{ledger: l}
}

// Report handles GET /api/reconcile
func (h *ReconcileHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Reconcile(r.Context())
	if err != nil {
		writeEngineError(w, r, err, "Failed to reconcile")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// Reverse handles POST /api/reconcile/{group}/reverse
func (h *ReconcileHandler) Reverse(w http.ResponseWriter, r *http.Request, groupID string) {
	deleted, err := h.ledger.ReverseGroup(r.Context(), groupID)
	if err != nil {
		if len(deleted) > 0 {
			logFrom(r).Error().Err(err).Str("group_id", groupID).Int("deleted", len(deleted)).Msg("Group reversal stopped midway")
			middleware.WriteJSON(w, http.StatusMultiStatus, map[string]interface{}{
				"group_id": groupID,
				"deleted":  deleted,
				"error":    err.Error(),
			})
			return
		}
		writeEngineError(w, r, err, "Failed to reverse group")
		return
	}

	logFrom(r).Info().Str("group_id", groupID).Int("deleted", len(deleted)).Msg("Group reversed")
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"group_id": groupID,
		"deleted":  deleted,
	})
}
