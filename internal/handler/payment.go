package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/service"
)

// PaymentCallback applies a provider notification. Replays answer 200 so
// the provider stops redelivering.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var ev service.CallbackEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Payments.HandleCallback(r.Context(), ev)
	if errors.Is(err, model.ErrNotFound) {
		// An order the ledger never issued is a malformed notification.
		writeError(w, http.StatusBadRequest, "unknown order")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"order_id": result.OrderID,
		"outcome":  result.Outcome,
	})
}

type createPaymentRequest struct {
	AmountMinor   int64               `json:"amount_minor"`
	Description   string              `json:"description"`
	StructureType model.StructureType `json:"structure_type"`
	Activation    bool                `json:"activation"`
	Items         []*model.OrderItem  `json:"items"`
}

// CreatePayment opens a pending order and returns the gateway redirect.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StructureType == "" {
		req.StructureType = model.StructurePrimary
	}

	result, err := h.svc.Payments.CreatePayment(r.Context(), service.CreatePaymentRequest{
		UserID:        userID(r),
		AmountMinor:   req.AmountMinor,
		Description:   req.Description,
		StructureType: req.StructureType,
		Activation:    req.Activation,
		Items:         req.Items,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// RetryCommission re-runs distribution for a paid order. A partial run
// still returns the per-level report.
func (h *Handler) RetryCommission(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	result, err := h.svc.Payments.RetryCommission(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, service.ErrDistributionIncomplete) && result != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   err.Error(),
				"result":  result,
			})
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}
