package model

import "time"

// ExecutionStatus represents the lifecycle state of a flow execution
type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "active"
	ExecutionCompleted ExecutionStatus = "completed"
)

// InactivityStatus tracks where an execution sits on the idle-escalation ladder
type InactivityStatus string

const (
	InactivityActive   InactivityStatus = "active"
	InactivityWarned   InactivityStatus = "warned"
	InactivityInactive InactivityStatus = "inactive"
)

// InactivityAction is the terminal action taken after warnings are exhausted
type InactivityAction string

const (
	InactivityActionWarn     InactivityAction = "warn"
	InactivityActionTransfer InactivityAction = "transfer"
	InactivityActionEnd      InactivityAction = "end"
)

// InputKind is the kind of reply a suspended execution is waiting for
type InputKind string

const (
	InputText  InputKind = "text"
	InputMenu  InputKind = "menu"
	InputMedia InputKind = "media"
)

// Ticket status values (owned by the ticketing subsystem, read by the engine)
const (
	TicketStatusOpen    = "open"
	TicketStatusPending = "pending"
	TicketStatusClosed  = "closed"
)

// IntegrationTypeFlow marks an integration that routes tickets into a flow
const IntegrationTypeFlow = "flowbuilder"

// Completion reasons recorded when an execution terminates
const (
	ReasonEnd             = "end"
	ReasonReset           = "reset"
	ReasonAttendant       = "attendant"
	ReasonAssistant       = "assistant"
	ReasonSwitchFlow      = "switchFlow"
	ReasonHumanAgent      = "terminatedByHumanAgent"
	ReasonStaleQuestion   = "staleQuestion"
	ReasonResponseTimeout = "responseTimeout"
	ReasonInactivity      = "inactivity"
)

// MenuOption is one selectable entry of a menu node
type MenuOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// PendingResponse marks that an execution is suspended waiting for a
// specific user input. It is an explicit sub-record of the Execution,
// not sentinel keys hidden in the variable bag.
type PendingResponse struct {
	NodeID       string       `json:"nodeId"`
	Variable     string       `json:"variable"`
	Kind         InputKind    `json:"kind"`
	Rule         string       `json:"rule,omitempty"`
	Pattern      string       `json:"pattern,omitempty"`
	MediaTypes   []string     `json:"mediaTypes,omitempty"`
	Options      []MenuOption `json:"options,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	AskedAt      time.Time    `json:"askedAt"`
	Attempts     int          `json:"attempts"`
}

// Execution is one run of a flow for one contact. At most one execution
// per (company, contact) may be active at a time.
type Execution struct {
	ID                     string           `json:"id"`
	CompanyID              int64            `json:"companyId"`
	ContactID              int64            `json:"contactId"`
	TicketID               int64            `json:"ticketId"`
	FlowID                 string           `json:"flowId"`
	CurrentNodeID          string           `json:"currentNodeId"`
	Status                 ExecutionStatus  `json:"status"`
	Variables              map[string]any   `json:"variables"`
	Pending                *PendingResponse `json:"pending,omitempty"`
	CompletedReason        string           `json:"completedReason,omitempty"`
	InactivityStatus       InactivityStatus `json:"inactivityStatus"`
	InactivityWarningsSent int              `json:"inactivityWarningsSent"`
	LastWarningAt          *time.Time       `json:"lastWarningAt,omitempty"`
	LastInteractionAt      time.Time        `json:"lastInteractionAt"`
	CreatedAt              time.Time        `json:"createdAt"`
	UpdatedAt              time.Time        `json:"updatedAt"`
}

// Ticket is the conversation record owned by the ticketing subsystem.
// The engine reads status/appointment fields and writes ownership flags.
type Ticket struct {
	ID                int64      `json:"id"`
	CompanyID         int64      `json:"companyId"`
	ContactID         int64      `json:"contactId"`
	Status            string     `json:"status"`
	QueueID           *int64     `json:"queueId,omitempty"`
	AppointmentMode   bool       `json:"appointmentMode"`
	AppointmentModeAt *time.Time `json:"appointmentModeAt,omitempty"`
	IsBot             bool       `json:"isBot"`
	IntegrationID     *int64     `json:"integrationId,omitempty"`
	FlowExecutionID   *string    `json:"flowExecutionId,omitempty"`
	UseIntegration    bool       `json:"useIntegration"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Contact is the messaging counterpart of a ticket
type Contact struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"companyId"`
	Name      string `json:"name"`
	Number    string `json:"number"`
}

// Integration binds a ticket to a flow definition
type Integration struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"companyId"`
	Type      string `json:"type"`
	FlowID    string `json:"flowId"`
}

// StoredMessage is a persisted inbound/outbound message record
type StoredMessage struct {
	ID        string    `json:"id"`
	CompanyID int64     `json:"companyId"`
	TicketID  int64     `json:"ticketId"`
	Body      string    `json:"body"`
	MediaType string    `json:"mediaType,omitempty"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	FromMe    bool      `json:"fromMe"`
	CreatedAt time.Time `json:"createdAt"`
}

// MediaInfo is the metadata extracted from a stored media message
type MediaInfo struct {
	Kind     string `json:"kind"` // image, video, audio, document
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// InactivityPolicy is the idle-escalation configuration in effect for a
// flow, read from its inactivity node or engine defaults.
type InactivityPolicy struct {
	Timeout         time.Duration    `json:"timeout"`
	WarningInterval time.Duration    `json:"warningInterval"`
	MaxWarnings     int              `json:"maxWarnings"`
	Action          InactivityAction `json:"action"`
	WarningMessage  string           `json:"warningMessage,omitempty"`
	EndMessage      string           `json:"endMessage,omitempty"`
	TransferQueueID int64            `json:"transferQueueId,omitempty"`
}
