package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

type autoWithdrawRequest struct {
	Enabled        bool                   `json:"enabled"`
	ThresholdMinor int64                  `json:"threshold_minor"`
	MinAmountMinor int64                  `json:"min_amount_minor"`
	Schedule       model.WithdrawSchedule `json:"schedule"`
	MethodID       *uuid.UUID             `json:"method_id"`
}

// GetAutoWithdraw returns the caller's rule, or a disabled default when
// none is stored.
func (h *Handler) GetAutoWithdraw(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.Withdrawal.GetRule(r.Context(), userID(r))
	if errors.Is(err, model.ErrNotFound) {
		writeJSON(w, http.StatusOK, &model.AutoWithdrawRule{
			UserID:   userID(r),
			Schedule: model.ScheduleMonthly,
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// SaveAutoWithdraw upserts the caller's rule.
func (h *Handler) SaveAutoWithdraw(w http.ResponseWriter, r *http.Request) {
	var req autoWithdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := h.svc.Withdrawal.SaveRule(r.Context(), &model.AutoWithdrawRule{
		UserID:         userID(r),
		Enabled:        req.Enabled,
		ThresholdMinor: req.ThresholdMinor,
		MinAmountMinor: req.MinAmountMinor,
		Schedule:       req.Schedule,
		MethodID:       req.MethodID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
