package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/api/middleware"
	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/ledger"
	"github.com/shopspring/decimal"
)

// TransactionsHandler handles ledger row endpoints.
type TransactionsHandler struct {
	ledger Ledger
	now    func() time.Time
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(l Ledger) *TransactionsHandler {
	return &TransactionsHandler{ledger: l, now: time.Now}
}

// CreateTransaction handles POST /api/transactions.
// The body is either {"candidate": {...}, "raw_text": "..."} or a bare
// candidate object.
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw map[string]json.RawMessage
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	c, err := decodeCandidate(raw)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref, err := h.ledger.LoadReference(ctx)
	if err != nil {
		writeEngineError(w, r, err, "Failed to load reference data")
		return
	}

	res, err := h.ledger.Submit(ctx, c, ref)
	if err != nil {
		writeEngineError(w, r, err, "Failed to submit transaction")
		return
	}

	logFrom(r).Info().
		Str("status", string(res.Status)).
		Str("group_id", res.GroupID).
		Msg("Transaction submitted")
	middleware.WriteJSON(w, CommitStatusCode(res.Status), res)
}

func decodeCandidate(raw map[string]json.RawMessage) (domain.Candidate, error) {
	var c domain.Candidate
	fields, wrapped := raw["candidate"]
	if !wrapped {
		c.Fields = make(map[string]interface{}, len(raw))
		for k, v := range raw {
			var val interface{}
			if err := unmarshalNumber(v, &val); err != nil {
				return c, fmt.Errorf("invalid field %q", k)
			}
			c.Fields[k] = val
		}
		return c, nil
	}
	if err := unmarshalNumber(fields, &c.Fields); err != nil || c.Fields == nil {
		return c, fmt.Errorf("candidate must be a JSON object")
	}
	if rt, ok := raw["raw_text"]; ok {
		if err := json.Unmarshal(rt, &c.RawText); err != nil {
			return c, fmt.Errorf("raw_text must be a string")
		}
	}
	return c, nil
}

func unmarshalNumber(data []byte, v interface{}) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	return d.Decode(v)
}

// ListTransactions handles GET /api/transactions?year=&month=.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	year, month, ok := monthQuery(r, h.now())
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid year or month")
		return
	}

	entries, err := h.ledger.ListEntries(r.Context(), year, month)
	if err != nil {
		writeEngineError(w, r, err, "Failed to list transactions")
		return
	}

	// Return array directly for frontend compatibility
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	middleware.WriteJSON(w, http.StatusOK, entries)
}

// patchRequest is the body of PUT /api/transactions/{id}.
type patchRequest struct {
	Date        *string          `json:"date"`
	Account     *string          `json:"account"`
	Category    *string          `json:"category"`
	Subcategory *string          `json:"subcategory"`
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Type        *string          `json:"type"`
	Status      *string          `json:"status"`
}

func (p patchRequest) toPatch() (ledger.EntryPatch, error) {
	patch := ledger.EntryPatch{
		Account:     p.Account,
		Category:    p.Category,
		Subcategory: p.Subcategory,
		Description: p.Description,
		Amount:      p.Amount,
	}
	if p.Date != nil {
		d, err := time.Parse("2006-01-02", *p.Date)
		if err != nil {
			return patch, fmt.Errorf("date must be YYYY-MM-DD")
		}
		patch.Date = &d
	}
	if p.Type != nil {
		t, ok := domain.ParseEntryType(*p.Type)
		if !ok {
			return patch, fmt.Errorf("type must be Expense, Income, Transfer or Asset")
		}
		patch.Type = &t
	}
	if p.Status != nil {
		s, ok := domain.ParseEntryStatus(*p.Status)
		if !ok {
			return patch, fmt.Errorf("status must be Normal or Flagged")
		}
		patch.Status = &s
	}
	return patch, nil
}

// entryRef builds the row address from the path id and the ?index= fallback
// used for rows without an entry id.
func entryRef(r *http.Request, id string) (ledger.EntryRef, bool) {
	if s := r.URL.Query().Get("index"); s != "" {
		idx, err := strconv.Atoi(s)
		if err != nil {
			return ledger.EntryRef{}, false
		}
		return ledger.EntryRef{Index: idx}, true
	}
	return ledger.EntryRef{ID: id}, id != ""
}

// UpdateTransaction handles PUT /api/transactions/{id}.
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	ref, ok := entryRef(r, id)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Entry id or index is required")
		return
	}

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	refData, err := h.ledger.LoadReference(ctx)
	if err != nil {
		writeEngineError(w, r, err, "Failed to load reference data")
		return
	}

	en, err := h.ledger.UpdateEntry(ctx, ref, patch, refData)
	if err != nil {
		writeEngineError(w, r, err, "Failed to update transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, en)
}

// DeleteTransaction handles DELETE /api/transactions/{id}.
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request, id string) {
	ref, ok := entryRef(r, id)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Entry id or index is required")
		return
	}

	en, err := h.ledger.DeleteEntry(r.Context(), ref)
	if err != nil {
		writeEngineError(w, r, err, "Failed to delete transaction")
		return
	}
	logFrom(r).Info().Str("entry_id", en.ID).Int("row", en.RowIndex).Msg("Transaction deleted")
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": en,
	})
}
