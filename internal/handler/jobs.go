package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/jobs"
)

// RunJob triggers a named maintenance job. A trigger that overlaps a
// running instance reports skipped.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	result, err := h.svc.Jobs.Run(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	log.Info().Str("job", name).Bool("skipped", result.Skipped).Dur("duration", result.Duration).Msg("Job triggered over HTTP")
	resp := map[string]any{
		"success": true,
		"job":     result.Job,
		"skipped": result.Skipped,
		"result":  result.Output,
	}
	if counter, ok := result.Output.(jobs.Counter); ok {
		for k, v := range counter.Counts() {
			resp[k] = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
