package engine

import (
	"context"
	"fmt"
	"time"

	"botflow/internal/model"

	"go.uber.org/zap"
)

// Supervisor escalates stalled executions on a periodic sweep:
// active -> warned -> inactive, ending in transfer or completion
// depending on the flow's inactivity policy. Any inbound message resets
// the escalation (the dispatcher handles that side).
type Supervisor struct {
	cfg       Config
	store     Store
	flows     Flows
	tickets   TicketStore
	messenger Messenger
	transfer  Transfer
	events    Events
	log       *zap.Logger
	now       nowFunc
}

// Sweep evaluates every active execution once. Per-execution failures
// are logged and do not block the rest of the sweep.
func (s *Supervisor) Sweep(ctx context.Context) error {
	execs, err := s.store.ListActiveExecutions(ctx)
	if err != nil {
		return fmt.Errorf("list active executions: %w", err)
	}
	for _, exec := range execs {
		if err := s.evaluate(ctx, exec); err != nil {
			s.log.Warn("inactivity evaluation failed",
				zap.String("executionId", exec.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Supervisor) evaluate(ctx context.Context, exec *model.Execution) error {
	flow, err := s.flows.Definition(ctx, exec.FlowID)
	if err != nil {
		return fmt.Errorf("flow %s: %w", exec.FlowID, err)
	}
	pol := s.PolicyFor(flow)
	now := s.now()

	if exec.InactivityWarningsSent == 0 {
		if now.Sub(exec.LastInteractionAt) < pol.Timeout {
			return nil
		}
		return s.warn(ctx, exec, pol)
	}

	if exec.LastWarningAt != nil && now.Sub(*exec.LastWarningAt) < pol.WarningInterval {
		return nil
	}
	if exec.InactivityWarningsSent < pol.MaxWarnings {
		return s.warn(ctx, exec, pol)
	}
	return s.escalate(ctx, exec, pol)
}

// warn sends at most one warning per threshold crossing. A delivery
// failure is logged but still counts; the next sweep moves on.
func (s *Supervisor) warn(ctx context.Context, exec *model.Execution, pol model.InactivityPolicy) error {
	if number := s.contactNumber(exec); number != "" {
		message := pol.WarningMessage
		if message == "" {
			message = s.cfg.WarningMessage
		}
		if err := s.messenger.SendText(ctx, number, RenderTemplate(message, exec.Variables)); err != nil {
			s.log.Warn("inactivity warning send failed",
				zap.String("executionId", exec.ID),
				zap.Error(err))
		}
	}
	t := s.now()
	exec.InactivityWarningsSent++
	exec.LastWarningAt = &t
	exec.InactivityStatus = model.InactivityWarned
	exec.UpdatedAt = t
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("persist warning state: %w", err)
	}
	s.publish(exec, map[string]any{
		"type":        "execution.warned",
		"executionId": exec.ID,
		"ticketId":    exec.TicketID,
		"warnings":    exec.InactivityWarningsSent,
	})
	return nil
}

func (s *Supervisor) escalate(ctx context.Context, exec *model.Execution, pol model.InactivityPolicy) error {
	switch pol.Action {
	case model.InactivityActionEnd:
		won, err := s.store.CompleteExecutionIfActive(ctx, exec.ID, model.ReasonInactivity)
		if err != nil {
			return fmt.Errorf("complete inactive execution: %w", err)
		}
		if !won {
			return nil
		}
		if pol.EndMessage != "" {
			if number := s.contactNumber(exec); number != "" {
				if err := s.messenger.SendText(ctx, number, RenderTemplate(pol.EndMessage, exec.Variables)); err != nil {
					s.log.Warn("inactivity end message send failed", zap.String("executionId", exec.ID), zap.Error(err))
				}
			}
		}
		s.publish(exec, map[string]any{
			"type":        "execution.completed",
			"executionId": exec.ID,
			"ticketId":    exec.TicketID,
			"reason":      model.ReasonInactivity,
		})
		return nil

	case model.InactivityActionTransfer:
		won, err := s.store.CompleteExecutionIfActive(ctx, exec.ID, model.ReasonInactivity)
		if err != nil {
			return fmt.Errorf("complete inactive execution: %w", err)
		}
		if !won {
			return nil
		}
		ticket, err := s.tickets.GetTicket(ctx, exec.TicketID)
		if err != nil {
			return fmt.Errorf("ticket %d: %w", exec.TicketID, err)
		}
		ticket.IsBot = false
		if pol.TransferQueueID != 0 {
			ticket.QueueID = &pol.TransferQueueID
			if s.transfer != nil {
				if err := s.transfer.TransferTicketToQueue(ctx, ticket.ID, pol.TransferQueueID); err != nil {
					s.log.Warn("inactivity transfer failed",
						zap.Int64("ticketId", ticket.ID),
						zap.Int64("queueId", pol.TransferQueueID),
						zap.Error(err))
				}
			}
		}
		if err := s.tickets.UpdateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("release ticket: %w", err)
		}
		s.publish(exec, map[string]any{
			"type":        "execution.transferred",
			"executionId": exec.ID,
			"ticketId":    exec.TicketID,
			"queueId":     pol.TransferQueueID,
		})
		return nil

	default:
		// warn-only flows park as inactive and wait for the user
		if exec.InactivityStatus == model.InactivityInactive {
			return nil
		}
		exec.InactivityStatus = model.InactivityInactive
		exec.UpdatedAt = s.now()
		if err := s.store.UpdateExecution(ctx, exec); err != nil {
			return fmt.Errorf("persist inactive state: %w", err)
		}
		s.publish(exec, map[string]any{
			"type":        "execution.inactive",
			"executionId": exec.ID,
			"ticketId":    exec.TicketID,
		})
		return nil
	}
}

// PolicyFor reads the flow's inactivity node, falling back to the
// engine defaults for anything unset.
func (s *Supervisor) PolicyFor(flow *model.FlowDefinition) model.InactivityPolicy {
	pol := model.InactivityPolicy{
		Timeout:         s.cfg.InactivityTimeout,
		WarningInterval: s.cfg.InactivityWarningInterval,
		MaxWarnings:     s.cfg.InactivityMaxWarnings,
		Action:          model.InactivityActionWarn,
	}
	node := flow.InactivityNode()
	if node == nil {
		return pol
	}
	if m := node.Int("timeoutMinutes"); m > 0 {
		pol.Timeout = time.Duration(m) * time.Minute
	}
	if m := node.Int("warningIntervalMinutes"); m > 0 {
		pol.WarningInterval = time.Duration(m) * time.Minute
	}
	if n := node.Int("maxWarnings"); n > 0 {
		pol.MaxWarnings = int(n)
	}
	switch model.InactivityAction(node.String("action")) {
	case model.InactivityActionEnd:
		pol.Action = model.InactivityActionEnd
	case model.InactivityActionTransfer:
		pol.Action = model.InactivityActionTransfer
	}
	pol.WarningMessage = node.String("warningMessage")
	pol.EndMessage = node.String("endMessage")
	pol.TransferQueueID = node.Int("transferQueueId")
	return pol
}

func (s *Supervisor) contactNumber(exec *model.Execution) string {
	number, _ := exec.Variables["contactNumber"].(string)
	return number
}

func (s *Supervisor) publish(exec *model.Execution, event map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishCompany(exec.CompanyID, event); err != nil {
		s.log.Debug("event publish failed", zap.Error(err))
	}
}
