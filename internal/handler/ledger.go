package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// GetBalance returns the caller's derived balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.Ledger.GetBalance(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":            balance,
		"withdrawable_minor": balance.WithdrawableMinor(),
	})
}

// ListTransactions returns one page of the caller's ledger.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := h.svc.Ledger.ListTransactions(r.Context(), userID(r), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*model.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"limit":        filter.Limit,
		"offset":       filter.Offset,
	})
}

func parseTransactionFilter(r *http.Request) (model.TransactionFilter, error) {
	q := r.URL.Query()
	var filter model.TransactionFilter

	if v := q.Get("type"); v != "" {
		t := model.TxType(v)
		filter.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := model.TxStatus(v)
		filter.Status = &s
	}
	if v := q.Get("structure_type"); v != "" {
		st := model.StructureType(v)
		filter.StructureType = &st
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, errInvalidParam(p.name)
			}
			*p.dst = &t
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return filter, errInvalidParam(p.name)
			}
			*p.dst = n
		}
	}
	return filter, nil
}
