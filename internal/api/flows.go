package api

import (
	"encoding/json"
	"io"
	"net/http"

	"botflow/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
)

type PutFlowRequest struct {
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
}

func (d Dependencies) putFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	companyID := auth.GetCompanyID(r.Context())
	if companyID == 0 {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "Missing company scope", d.Log)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body", d.Log)
		return
	}
	var req PutFlowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if len(req.Definition) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "definition is required", d.Log)
		return
	}

	flow, err := d.Flows.Save(r.Context(), id, companyID, req.Name, req.Definition)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_flow", err.Error(), d.Log)
		return
	}

	writeJSON(w, http.StatusOK, flow)
}

// createFlow mints a new flow id and saves the definition
func (d Dependencies) createFlow(w http.ResponseWriter, r *http.Request) {
	companyID := auth.GetCompanyID(r.Context())
	if companyID == 0 {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "Missing company scope", d.Log)
		return
	}

	var req PutFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if len(req.Definition) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "definition is required", d.Log)
		return
	}

	flow, err := d.Flows.Save(r.Context(), ulid.Make().String(), companyID, req.Name, req.Definition)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_flow", err.Error(), d.Log)
		return
	}

	writeJSON(w, http.StatusCreated, flow)
}

func (d Dependencies) getFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	row, err := d.DB.GetFlow(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "Flow not found", d.Log)
		return
	}
	if companyID := auth.GetCompanyID(r.Context()); companyID != 0 && row.CompanyID != companyID {
		WriteError(w, http.StatusNotFound, "not_found", "Flow not found", d.Log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         row.ID,
		"companyId":  row.CompanyID,
		"name":       row.Name,
		"definition": json.RawMessage(row.Definition),
		"createdAt":  row.CreatedAt,
		"updatedAt":  row.UpdatedAt,
	})
}

func (d Dependencies) listFlows(w http.ResponseWriter, r *http.Request) {
	companyID := auth.GetCompanyID(r.Context())
	if companyID == 0 {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "Missing company scope", d.Log)
		return
	}

	rows, err := d.DB.ListFlows(r.Context(), companyID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list_failed", err.Error(), d.Log)
		return
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any{
			"id":        row.ID,
			"name":      row.Name,
			"updatedAt": row.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
