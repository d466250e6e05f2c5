// Package handler exposes the ledger core over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/jobs"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/service"
)

// Services are the collaborators the HTTP layer calls.
type Services struct {
	Ledger     *service.LedgerService
	Network    *service.NetworkGraph
	Activation *service.ActivationTracker
	Payments   *service.PaymentService
	Plans      *service.PlanService
	Withdrawal *service.WithdrawalScheduler
	Jobs       *jobs.Runner
	// Health reports whether backing stores are reachable. Nil means healthy.
	Health func(ctx context.Context) error
}

// Handler serves every route.
type Handler struct {
	svc Services
}

// New creates a new Handler.
func New(svc Services) *Handler {
	return &Handler{svc: svc}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Warn().Err(err).Msg("Failed to encode response")
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrSignatureMismatch):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, jobs.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, model.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError hides internal details behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Join(model.ErrValidation, err)
	}
	return nil
}

// Health reports liveness and store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.svc.Health != nil {
		if err := h.svc.Health(r.Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
