package api

import (
	"encoding/json"
	"net/http"

	"botflow/internal/engine"
	"botflow/internal/model"
)

// InboundMessageRequest is the payload the messaging gateway posts for
// every message it receives on a connected number.
type InboundMessageRequest struct {
	MessageID     string `json:"messageId"`
	CompanyID     int64  `json:"companyId"`
	ContactName   string `json:"contactName"`
	ContactNumber string `json:"contactNumber"`
	Body          string `json:"body"`
	MediaType     string `json:"mediaType,omitempty"`
	MediaURL      string `json:"mediaUrl,omitempty"`
	FromMe        bool   `json:"fromMe"`
	IntegrationID *int64 `json:"integrationId,omitempty"`
}

func (d Dependencies) inboundMessage(w http.ResponseWriter, r *http.Request) {
	var req InboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if req.CompanyID == 0 || req.ContactNumber == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "companyId and contactNumber are required", d.Log)
		return
	}

	ctx := r.Context()

	contact, err := d.DB.UpsertContact(ctx, req.CompanyID, req.ContactName, req.ContactNumber)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "contact_failed", err.Error(), d.Log)
		return
	}

	ticket, err := d.DB.OpenTicketByContact(ctx, req.CompanyID, contact.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "ticket_failed", err.Error(), d.Log)
		return
	}
	if ticket == nil {
		ticket, err = d.DB.CreateTicket(ctx, req.CompanyID, contact.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "ticket_failed", err.Error(), d.Log)
			return
		}
	}

	if req.MessageID != "" {
		err = d.DB.CreateMessage(ctx, &model.StoredMessage{
			ID:        req.MessageID,
			CompanyID: req.CompanyID,
			TicketID:  ticket.ID,
			Body:      req.Body,
			MediaType: req.MediaType,
			MediaURL:  req.MediaURL,
			FromMe:    req.FromMe,
		})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "message_failed", err.Error(), d.Log)
			return
		}
	}

	var integ *model.Integration
	if req.IntegrationID != nil {
		integ, err = d.DB.GetIntegration(ctx, *req.IntegrationID, req.CompanyID)
		if err != nil {
			WriteError(w, http.StatusNotFound, "integration_not_found", "Integration not found", d.Log)
			return
		}
	}

	handled := d.Engine.Handle(ctx, engine.InboundMessage{
		ID:        req.MessageID,
		Body:      req.Body,
		MediaType: req.MediaType,
		FromMe:    req.FromMe,
	}, ticket, contact, integ)

	writeJSON(w, http.StatusOK, map[string]any{
		"handled":  handled,
		"ticketId": ticket.ID,
	})
}
