package api

import (
	"net/http"
	"strconv"

	"botflow/internal/model"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) getExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	exec, err := d.DB.GetExecution(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "Execution not found", d.Log)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

// resetTicket forcibly detaches a ticket from its running execution so
// the next contact message starts the flow from the beginning.
func (d Dependencies) resetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid ticket id", d.Log)
		return
	}

	ctx := r.Context()
	ticket, err := d.DB.GetTicket(ctx, id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "Ticket not found", d.Log)
		return
	}

	if ticket.FlowExecutionID != nil {
		if _, err := d.DB.CompleteExecutionIfActive(ctx, *ticket.FlowExecutionID, model.ReasonReset); err != nil {
			WriteError(w, http.StatusInternalServerError, "reset_failed", err.Error(), d.Log)
			return
		}
	}

	ticket.IsBot = false
	ticket.FlowExecutionID = nil
	ticket.UseIntegration = false
	if err := d.DB.UpdateTicket(ctx, ticket); err != nil {
		WriteError(w, http.StatusInternalServerError, "reset_failed", err.Error(), d.Log)
		return
	}

	d.Bus.PublishTicket(ticket.ID, map[string]any{
		"type":     "execution.reset",
		"ticketId": ticket.ID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
