package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// CommissionStructure lists plan levels with what the caller earned on
// each.
func (h *Handler) CommissionStructure(w http.ResponseWriter, r *http.Request) {
	structure := model.StructureType(r.URL.Query().Get("structure_type"))
	if structure == "" {
		structure = model.StructurePrimary
	}
	if !structure.Valid() {
		writeError(w, http.StatusBadRequest, errInvalidParam("structure_type").Error())
		return
	}

	levels, err := h.svc.Plans.Structure(r.Context(), userID(r), structure)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if levels == nil {
		levels = []*model.CommissionLevel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"structure_type": structure,
		"levels":         levels,
	})
}

type planLevelRequest struct {
	Percent     decimal.Decimal `json:"percent"`
	Description *string         `json:"description"`
}

func planPath(r *http.Request) (model.StructureType, int, error) {
	structure := model.StructureType(chi.URLParam(r, "structure"))
	if !structure.Valid() {
		return "", 0, errInvalidParam("structure")
	}
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		return "", 0, errInvalidParam("level")
	}
	return structure, level, nil
}

// SetPlanLevel creates or replaces one level of the plan.
func (h *Handler) SetPlanLevel(w http.ResponseWriter, r *http.Request) {
	structure, level, err := planPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req planLevelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	saved, err := h.svc.Plans.SetLevel(r.Context(), structure, level, req.Percent, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DeletePlanLevel removes one level. Purchases after this pay nothing on it.
func (h *Handler) DeletePlanLevel(w http.ResponseWriter, r *http.Request) {
	structure, level, err := planPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Plans.DeleteLevel(r.Context(), structure, level); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
