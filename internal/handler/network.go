package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

type invalidParamError string

func (e invalidParamError) Error() string { return fmt.Sprintf("invalid %s parameter", string(e)) }

func errInvalidParam(name string) error { return invalidParamError(name) }

type registerRequest struct {
	SponsorCode string `json:"sponsor_code"`
}

// RegisterMember places the caller under the owner of sponsor_code. A
// repeated registration returns the existing node.
func (h *Handler) RegisterMember(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	member, err := h.svc.Network.RegisterMember(r.Context(), userID(r), req.SponsorCode)
	if errors.Is(err, model.ErrDuplicateEvent) {
		existing, getErr := h.svc.Network.Member(r.Context(), userID(r))
		if getErr != nil {
			writeServiceError(w, r, getErr)
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

// NetworkTree returns the caller's downline with current-month volumes.
func (h *Handler) NetworkTree(w http.ResponseWriter, r *http.Request) {
	maxLevel := 0
	if v := r.URL.Query().Get("max_level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errInvalidParam("max_level").Error())
			return
		}
		maxLevel = n
	}

	members, err := h.svc.Network.Subtree(r.Context(), userID(r), maxLevel)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []*model.NetworkMember{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// NetworkStats returns aggregate counts for the caller's downline.
func (h *Handler) NetworkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Network.Stats(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetActivation returns the caller's activation state for the current
// month.
func (h *Handler) GetActivation(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Activation.Evaluate(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	log.Debug().Str("user_id", userID(r).String()).Bool("activated", state.Met).Msg("Activation checked")
	writeJSON(w, http.StatusOK, map[string]any{
		"activation":      state,
		"remaining_minor": state.RemainingMinor(),
	})
}
