package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"botflow/internal/model"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type nowFunc func() time.Time

// Deps wires the dispatcher's collaborators. Scheduler and Events may be
// nil; everything else is required.
type Deps struct {
	Store        Store
	Tickets      TicketStore
	Integrations IntegrationStore
	Flows        Flows
	Messages     MessageStore
	Media        MediaProcessor
	Appointments Appointments
	Events       Events
	Scheduler    JobScheduler
	Collab       Collaborators
	Log          *zap.Logger
	// Now overrides the clock in tests
	Now func() time.Time
}

// Dispatcher receives inbound contact messages, locates or creates the
// execution, and drives the interpreter loop until it suspends or
// terminates. It is the engine's only entry point.
type Dispatcher struct {
	cfg          Config
	store        Store
	tickets      TicketStore
	integrations IntegrationStore
	flows        Flows
	appointments Appointments
	events       Events
	messenger    Messenger
	validator    *Validator
	interp       *Interpreter
	locks        *keyMutex
	log          *zap.Logger
	now          nowFunc
}

// NewDispatcher builds the engine from its configuration and collaborators
func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	cfg = cfg.Normalize()
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	d := &Dispatcher{
		cfg:          cfg,
		store:        deps.Store,
		tickets:      deps.Tickets,
		integrations: deps.Integrations,
		flows:        deps.Flows,
		appointments: deps.Appointments,
		events:       deps.Events,
		messenger:    deps.Collab.Messenger,
		locks:        newKeyMutex(),
		log:          deps.Log,
		now:          now,
	}
	d.validator = &Validator{cfg: cfg, messages: deps.Messages, media: deps.Media, log: deps.Log}
	d.interp = &Interpreter{
		cfg:       cfg,
		store:     deps.Store,
		tickets:   deps.Tickets,
		collab:    deps.Collab,
		events:    deps.Events,
		scheduler: deps.Scheduler,
		log:       deps.Log,
		now:       now,
	}
	if d.interp.collab.FlowTrigger == nil {
		d.interp.collab.FlowTrigger = d
	}
	return d
}

// Supervisor builds the inactivity supervisor sharing this engine's
// configuration, store and collaborators.
func (d *Dispatcher) Supervisor() *Supervisor {
	return &Supervisor{
		cfg:       d.cfg,
		store:     d.store,
		flows:     d.flows,
		tickets:   d.tickets,
		messenger: d.messenger,
		transfer:  d.interp.collab.Transfer,
		events:    d.events,
		log:       d.log,
		now:       d.now,
	}
}

// Handle processes one inbound message. It returns whether the engine
// handled the message; failures never propagate — they are logged and
// answered with a generic apology.
func (d *Dispatcher) Handle(ctx context.Context, msg InboundMessage, ticket *model.Ticket, contact *model.Contact, integ *model.Integration) (handled bool) {
	unlock := d.locks.Lock(fmt.Sprintf("%d:%d", ticket.CompanyID, contact.ID))
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic handling inbound message",
				zap.Int64("ticketId", ticket.ID),
				zap.Int64("contactId", contact.ID),
				zap.Any("panic", r))
			d.apologize(ctx, contact)
			handled = false
		}
	}()

	handled, err := d.handle(ctx, msg, ticket, contact, integ)
	if err != nil {
		d.log.Error("flow engine failed",
			zap.Int64("ticketId", ticket.ID),
			zap.Int64("contactId", contact.ID),
			zap.String("messageId", msg.ID),
			zap.Error(err))
		d.apologize(ctx, contact)
		return false
	}
	return handled
}

func (d *Dispatcher) handle(ctx context.Context, msg InboundMessage, ticket *model.Ticket, contact *model.Contact, integ *model.Integration) (bool, error) {
	if msg.FromMe {
		return false, nil
	}
	now := d.now()

	// a human agent owns the conversation: let go of it entirely
	if ticket.Status == model.TicketStatusOpen {
		if err := d.completeActive(ctx, ticket, contact, model.ReasonHumanAgent); err != nil {
			return false, err
		}
		return false, nil
	}

	// self-heal appointment mode stuck past the staleness window
	if ticket.AppointmentMode {
		setAt := ticket.UpdatedAt
		if ticket.AppointmentModeAt != nil {
			setAt = *ticket.AppointmentModeAt
		}
		if now.Sub(setAt) > d.cfg.AppointmentStaleAfter {
			ticket.AppointmentMode = false
			ticket.AppointmentModeAt = nil
			if err := d.tickets.UpdateTicket(ctx, ticket); err != nil {
				return false, fmt.Errorf("clear stale appointment mode: %w", err)
			}
		}
	}
	if ticket.AppointmentMode {
		if d.appointments == nil {
			return false, nil
		}
		if err := d.appointments.HandleAppointment(ctx, msg, ticket, contact); err != nil {
			return false, fmt.Errorf("appointment handler: %w", err)
		}
		return true, nil
	}

	// resolve the flow integration governing this ticket
	if integ == nil && ticket.IntegrationID != nil {
		loaded, err := d.integrations.GetIntegration(ctx, *ticket.IntegrationID, ticket.CompanyID)
		if err != nil {
			d.log.Warn("integration lookup failed",
				zap.Int64("integrationId", *ticket.IntegrationID),
				zap.Int64("ticketId", ticket.ID),
				zap.Error(err))
			return false, nil
		}
		integ = loaded
	}
	if integ == nil || integ.Type != model.IntegrationTypeFlow || integ.FlowID == "" {
		return false, nil
	}

	flow, err := d.flows.Definition(ctx, integ.FlowID)
	if err != nil {
		d.log.Warn("flow definition not found",
			zap.String("flowId", integ.FlowID),
			zap.Int64("ticketId", ticket.ID),
			zap.Error(err))
		return false, nil
	}

	exec, err := d.store.ActiveExecutionByContact(ctx, ticket.CompanyID, contact.ID)
	if err != nil {
		return false, fmt.Errorf("lookup active execution: %w", err)
	}

	if exec != nil {
		// any inbound message counts as activity
		exec.LastInteractionAt = now
		exec.InactivityStatus = model.InactivityActive
		exec.InactivityWarningsSent = 0
		exec.LastWarningAt = nil
		exec.Variables["lastMessage"] = msg.Body

		if exec.Pending != nil && now.Sub(exec.Pending.AskedAt) > d.cfg.ResponseTimeout {
			// the question went stale; abandon this run so a fresh one starts
			exec.Pending = nil
			exec.Status = model.ExecutionCompleted
			exec.CompletedReason = model.ReasonStaleQuestion
			if err := d.store.UpdateExecution(ctx, exec); err != nil {
				return false, fmt.Errorf("discard stale execution: %w", err)
			}
			exec = nil
		}
	}

	if exec != nil && strings.TrimSpace(msg.Body) == d.cfg.ResetCommand {
		won, err := d.store.CompleteExecutionIfActive(ctx, exec.ID, model.ReasonReset)
		if err != nil {
			return false, fmt.Errorf("reset execution %s: %w", exec.ID, err)
		}
		if won {
			d.publish(ticket.CompanyID, map[string]any{
				"type":        "execution.completed",
				"executionId": exec.ID,
				"ticketId":    ticket.ID,
				"reason":      model.ReasonReset,
			})
		}
		exec = nil
	}

	if exec != nil {
		if exec.Pending != nil {
			return d.resume(ctx, exec, flow, ticket, contact, msg)
		}
		// active but not awaiting input: continue from the current node
		if err := d.interp.Run(ctx, exec, flow, ticket, contact, flow.NextNode(exec.CurrentNodeID)); err != nil {
			return false, err
		}
		return true, nil
	}

	return d.start(ctx, flow, ticket, contact, integ, msg)
}

// resume validates the reply against the pending question and continues
// interpretation from the resolved next node.
func (d *Dispatcher) resume(ctx context.Context, exec *model.Execution, flow *model.FlowDefinition, ticket *model.Ticket, contact *model.Contact, msg InboundMessage) (bool, error) {
	pending := exec.Pending
	result := d.validator.Validate(ctx, exec, msg)
	if !result.Handled {
		return true, nil
	}
	if !result.Valid && !result.Forced {
		if err := d.store.UpdateExecution(ctx, exec); err != nil {
			return false, fmt.Errorf("persist retry counter: %w", err)
		}
		if err := d.messenger.SendText(ctx, contact.Number, result.ErrorMessage); err != nil {
			d.log.Warn("validation error message send failed", zap.String("executionId", exec.ID), zap.Error(err))
		}
		return true, nil
	}

	if pending.Variable != "" {
		exec.Variables[pending.Variable] = result.Value
		if result.Forced {
			exec.Variables[pending.Variable+"__invalid"] = true
		}
	}
	exec.Pending = nil

	next := ""
	if result.NextHandle != "" {
		next = flow.NextFromHandle(pending.NodeID, result.NextHandle)
	}
	if next == "" {
		next = flow.NextNode(pending.NodeID)
	}
	if err := d.interp.Run(ctx, exec, flow, ticket, contact, next); err != nil {
		return false, err
	}
	return true, nil
}

// start begins a fresh execution at the flow's start node
func (d *Dispatcher) start(ctx context.Context, flow *model.FlowDefinition, ticket *model.Ticket, contact *model.Contact, integ *model.Integration, msg InboundMessage) (bool, error) {
	if strings.TrimSpace(msg.Body) == d.cfg.ResetCommand {
		// reset force-completes stray runs before starting fresh
		if err := d.completeActive(ctx, ticket, contact, model.ReasonReset); err != nil {
			return false, err
		}
	}

	startNode := flow.StartNode()
	if startNode == nil {
		d.log.Warn("flow has no start node", zap.String("flowId", flow.ID))
		return false, nil
	}

	now := d.now()
	exec := &model.Execution{
		ID:            ulid.Make().String(),
		CompanyID:     ticket.CompanyID,
		ContactID:     contact.ID,
		TicketID:      ticket.ID,
		FlowID:        flow.ID,
		CurrentNodeID: startNode.ID,
		Status:        model.ExecutionActive,
		Variables: map[string]any{
			"contactName":   contact.Name,
			"contactNumber": contact.Number,
			"ticketId":      ticket.ID,
			"lastMessage":   msg.Body,
		},
		InactivityStatus:  model.InactivityActive,
		LastInteractionAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := d.store.CreateExecution(ctx, exec); err != nil {
		return false, fmt.Errorf("create execution: %w", err)
	}

	ticket.IsBot = true
	ticket.IntegrationID = &integ.ID
	ticket.FlowExecutionID = &exec.ID
	if err := d.tickets.UpdateTicket(ctx, ticket); err != nil {
		return false, fmt.Errorf("mark ticket bot-owned: %w", err)
	}

	d.publish(ticket.CompanyID, map[string]any{
		"type":        "execution.started",
		"executionId": exec.ID,
		"ticketId":    ticket.ID,
		"flowId":      flow.ID,
	})

	if err := d.interp.Run(ctx, exec, flow, ticket, contact, startNode.ID); err != nil {
		return false, err
	}
	return true, nil
}

// StartFlow lets a switchFlow node hand the conversation to another flow.
// The current execution is already terminal when this runs.
func (d *Dispatcher) StartFlow(ctx context.Context, ticket *model.Ticket, contact *model.Contact, flowID string) error {
	flow, err := d.flows.Definition(ctx, flowID)
	if err != nil {
		return fmt.Errorf("switch target flow %s: %w", flowID, err)
	}
	integ := &model.Integration{CompanyID: ticket.CompanyID, Type: model.IntegrationTypeFlow, FlowID: flowID}
	if ticket.IntegrationID != nil {
		integ.ID = *ticket.IntegrationID
	}
	_, err = d.start(ctx, flow, ticket, contact, integ, InboundMessage{})
	return err
}

func (d *Dispatcher) completeActive(ctx context.Context, ticket *model.Ticket, contact *model.Contact, reason string) error {
	exec, err := d.store.ActiveExecutionByContact(ctx, ticket.CompanyID, contact.ID)
	if err != nil {
		return fmt.Errorf("lookup active execution: %w", err)
	}
	if exec == nil {
		return nil
	}
	won, err := d.store.CompleteExecutionIfActive(ctx, exec.ID, reason)
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", exec.ID, err)
	}
	if won {
		d.publish(ticket.CompanyID, map[string]any{
			"type":        "execution.completed",
			"executionId": exec.ID,
			"ticketId":    ticket.ID,
			"reason":      reason,
		})
	}
	return nil
}

func (d *Dispatcher) apologize(ctx context.Context, contact *model.Contact) {
	if err := d.messenger.SendText(ctx, contact.Number, d.cfg.ApologyMessage); err != nil {
		d.log.Warn("apology send failed", zap.String("number", contact.Number), zap.Error(err))
	}
}

func (d *Dispatcher) publish(companyID int64, event map[string]any) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishCompany(companyID, event); err != nil {
		d.log.Debug("event publish failed", zap.Error(err))
	}
}
