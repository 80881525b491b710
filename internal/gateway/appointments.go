package gateway

import (
	"context"
	"fmt"
	"time"

	"botflow/internal/engine"
	"botflow/internal/model"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// AppointmentClient delegates tickets in appointment mode to the
// scheduling service. Implements the engine's Appointments interface.
type AppointmentClient struct {
	http *resty.Client
	log  *zap.Logger
}

func NewAppointmentClient(baseURL string, log *zap.Logger) *AppointmentClient {
	return &AppointmentClient{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second),
		log:  log,
	}
}

// HandleAppointment forwards the inbound message to the scheduler
func (a *AppointmentClient) HandleAppointment(ctx context.Context, msg engine.InboundMessage, t *model.Ticket, c *model.Contact) error {
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"ticketId":  t.ID,
			"contactId": c.ID,
			"companyId": t.CompanyID,
			"body":      msg.Body,
		}).
		Post("/appointments/message")
	if err != nil {
		return fmt.Errorf("appointment handoff for ticket %d: %w", t.ID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("appointment handoff for ticket %d: status %d", t.ID, resp.StatusCode())
	}
	return nil
}
