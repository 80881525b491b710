package engine

import (
	"context"
	"time"

	"botflow/internal/model"
)

// InboundMessage is one user message delivered by the ingestion layer
type InboundMessage struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	MediaType string `json:"mediaType,omitempty"`
	FromMe    bool   `json:"fromMe"`
}

// Store is the durable execution store
type Store interface {
	CreateExecution(ctx context.Context, exec *model.Execution) error
	UpdateExecution(ctx context.Context, exec *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	// ActiveExecutionByContact returns (nil, nil) when no active execution exists
	ActiveExecutionByContact(ctx context.Context, companyID, contactID int64) (*model.Execution, error)
	ListActiveExecutions(ctx context.Context) ([]*model.Execution, error)
	// CompleteExecutionIfActive flips status to completed only when the
	// execution is still active; returns whether this call won the flip.
	CompleteExecutionIfActive(ctx context.Context, id, reason string) (bool, error)
}

// TicketStore reads and writes the ticket fields the engine owns
type TicketStore interface {
	GetTicket(ctx context.Context, id int64) (*model.Ticket, error)
	UpdateTicket(ctx context.Context, t *model.Ticket) error
}

// IntegrationStore resolves integration configuration
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id, companyID int64) (*model.Integration, error)
}

// Flows resolves versioned flow definitions
type Flows interface {
	Definition(ctx context.Context, flowID string) (*model.FlowDefinition, error)
}

// Messenger is the messaging transport. Failures are loggable, non-fatal.
type Messenger interface {
	SendText(ctx context.Context, number, text string) error
	SendPresence(ctx context.Context, number, state string) error
}

// MessageStore locates persisted message records (media validation)
type MessageStore interface {
	GetMessageByID(ctx context.Context, companyID int64, id string) (*model.StoredMessage, error)
}

// MediaProcessor extracts media metadata from a stored message
type MediaProcessor interface {
	ExtractMediaInfo(ctx context.Context, m *model.StoredMessage) (*model.MediaInfo, error)
}

// Appointments is the opaque appointment-scheduling collaborator
type Appointments interface {
	HandleAppointment(ctx context.Context, msg InboundMessage, t *model.Ticket, c *model.Contact) error
}

// Tagger applies a tag to a ticket (tag node)
type Tagger interface {
	ApplyTag(ctx context.Context, ticketID, tagID int64) error
}

// Transfer hands a ticket off to a queue (attendant node, inactivity transfer)
type Transfer interface {
	TransferTicketToQueue(ctx context.Context, ticketID, queueID int64) error
}

// Assistant is the AI integration collaborator (openai node)
type Assistant interface {
	Reply(ctx context.Context, prompt string, vars map[string]any) (string, error)
}

// FlowTrigger starts another flow for a ticket (switchFlow node)
type FlowTrigger interface {
	StartFlow(ctx context.Context, t *model.Ticket, c *model.Contact, flowID string) error
}

// Events publishes engine lifecycle events for dashboards
type Events interface {
	PublishCompany(companyID int64, event map[string]any) error
	PublishTicket(ticketID int64, event map[string]any) error
}

// WebhookRequest is the declared configuration of a webhook node call
type WebhookRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    map[string]any
	Timeout time.Duration
}

// WebhookClient performs webhook/API node calls
type WebhookClient interface {
	Call(ctx context.Context, req WebhookRequest) ([]byte, error)
}

// JobScheduler schedules delayed engine maintenance work. Optional: a nil
// scheduler disables pending-response expiry jobs (the stale-question
// check on the next inbound message still applies).
type JobScheduler interface {
	ScheduleExpiry(executionID string, in time.Duration) error
}
