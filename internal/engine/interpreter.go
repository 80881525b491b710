package engine

import (
	"context"
	"fmt"
	"strings"

	"botflow/internal/model"

	"github.com/Jeffail/gabs/v2"
	"go.uber.org/zap"
)

// Collaborators bundles the node-type-specific external integrations
type Collaborators struct {
	Messenger   Messenger
	Webhooks    WebhookClient
	Tagger      Tagger
	Transfer    Transfer
	Assistant   Assistant
	FlowTrigger FlowTrigger
}

// StepResult is the outcome of executing a single node
type StepResult struct {
	// Next is the node to enter when neither suspended nor done
	Next string
	// Pending, when set, suspends the execution awaiting user input
	Pending *model.PendingResponse
	// Done marks a terminal node; Reason is recorded on the execution
	Done   bool
	Reason string
	// Halt stops the run after a step that already finalized the
	// execution itself (switchFlow completes before handing off)
	Halt bool
	Err  error
}

// Interpreter walks a flow graph, performing node side effects and
// persisting execution state after every step. Side effects are
// at-least-once: an effect and its state transition are committed
// together, but the effect itself is never rolled back.
type Interpreter struct {
	cfg       Config
	store     Store
	tickets   TicketStore
	collab    Collaborators
	events    Events
	scheduler JobScheduler
	log       *zap.Logger
	now       nowFunc
}

// Run interprets the flow starting at fromNodeID until the execution
// suspends on an input node, reaches a terminal node, or fails.
func (it *Interpreter) Run(ctx context.Context, exec *model.Execution, flow *model.FlowDefinition, ticket *model.Ticket, contact *model.Contact, fromNodeID string) error {
	nodeID := fromNodeID
	for steps := 0; steps < it.cfg.MaxStepsPerRun; steps++ {
		if nodeID == "" {
			// no outgoing edge: the flow just stops here
			return it.complete(ctx, exec, model.ReasonEnd)
		}
		node := flow.Node(nodeID)
		if node == nil {
			it.log.Warn("flow references missing node",
				zap.String("flowId", flow.ID),
				zap.String("nodeId", nodeID),
				zap.String("executionId", exec.ID))
			return it.persist(ctx, exec)
		}

		res := it.step(ctx, exec, flow, ticket, contact, node)
		if res.Err != nil {
			// leave the execution at the last successfully entered node
			it.log.Error("node execution failed",
				zap.String("executionId", exec.ID),
				zap.String("nodeId", node.ID),
				zap.String("nodeType", string(node.Type)),
				zap.Error(res.Err))
			if perr := it.persist(ctx, exec); perr != nil {
				return perr
			}
			return res.Err
		}

		exec.CurrentNodeID = node.ID
		if res.Pending != nil {
			exec.Pending = res.Pending
			if err := it.persist(ctx, exec); err != nil {
				return err
			}
			if it.scheduler != nil {
				if err := it.scheduler.ScheduleExpiry(exec.ID, it.cfg.ResponseTimeout); err != nil {
					it.log.Warn("failed to schedule response expiry", zap.String("executionId", exec.ID), zap.Error(err))
				}
			}
			return nil
		}
		if res.Halt {
			return nil
		}
		if res.Done {
			return it.complete(ctx, exec, res.Reason)
		}
		if err := it.persist(ctx, exec); err != nil {
			return err
		}
		nodeID = res.Next
	}
	it.log.Warn("interpreter step budget exhausted",
		zap.String("executionId", exec.ID),
		zap.String("flowId", flow.ID),
		zap.Int("maxSteps", it.cfg.MaxStepsPerRun))
	return it.persist(ctx, exec)
}

func (it *Interpreter) step(ctx context.Context, exec *model.Execution, flow *model.FlowDefinition, ticket *model.Ticket, contact *model.Contact, node *model.Node) StepResult {
	switch node.Type {
	case model.NodeStart, model.NodeInactivity:
		// start is an anchor; inactivity only configures the supervisor
		return StepResult{Next: flow.NextNode(node.ID)}

	case model.NodeMessage:
		it.sendText(ctx, exec, contact, RenderTemplate(node.String("text"), exec.Variables))
		return StepResult{Next: flow.NextNode(node.ID)}

	case model.NodeQuestion:
		return it.stepQuestion(ctx, exec, flow, contact, node)

	case model.NodeMenu:
		return it.stepMenu(ctx, exec, contact, node)

	case model.NodeConditional:
		return it.stepConditional(exec, flow, node)

	case model.NodeWebhook:
		return it.stepWebhook(ctx, exec, flow, node)

	case model.NodeTag:
		tagID := node.Int("tagId")
		if tagID != 0 && it.collab.Tagger != nil {
			if err := it.collab.Tagger.ApplyTag(ctx, ticket.ID, tagID); err != nil {
				it.log.Warn("tag apply failed", zap.Int64("ticketId", ticket.ID), zap.Int64("tagId", tagID), zap.Error(err))
			}
		}
		return StepResult{Next: flow.NextNode(node.ID)}

	case model.NodeAttendant:
		return it.stepAttendant(ctx, exec, ticket, contact, node)

	case model.NodeAssistant:
		return it.stepAssistant(ctx, exec, ticket, contact, node)

	case model.NodeSwitchFlow:
		targetFlow := node.String("flowId")
		if targetFlow == "" {
			return StepResult{Err: fmt.Errorf("switchFlow node %s has no flowId", node.ID)}
		}
		// the current run must be terminal before the target flow may
		// create its execution for the same contact
		exec.CurrentNodeID = node.ID
		if err := it.complete(ctx, exec, model.ReasonSwitchFlow); err != nil {
			return StepResult{Err: err}
		}
		if it.collab.FlowTrigger != nil {
			if err := it.collab.FlowTrigger.StartFlow(ctx, ticket, contact, targetFlow); err != nil {
				it.log.Warn("switch flow trigger failed", zap.String("flowId", targetFlow), zap.Error(err))
			}
		}
		return StepResult{Halt: true}

	case model.NodeEnd:
		if text := node.String("text"); text != "" {
			it.sendText(ctx, exec, contact, RenderTemplate(text, exec.Variables))
		}
		return StepResult{Done: true, Reason: model.ReasonEnd}

	default:
		return StepResult{Err: fmt.Errorf("unknown node type %q (node %s)", node.Type, node.ID)}
	}
}

func (it *Interpreter) stepQuestion(ctx context.Context, exec *model.Execution, flow *model.FlowDefinition, contact *model.Contact, node *model.Node) StepResult {
	variable := node.String("variable")
	if variable == "" {
		return StepResult{Err: fmt.Errorf("question node %s has no variable", node.ID)}
	}
	it.sendText(ctx, exec, contact, RenderTemplate(node.String("text"), exec.Variables))

	pending := &model.PendingResponse{
		NodeID:       node.ID,
		Variable:     variable,
		Kind:         model.InputText,
		ErrorMessage: node.String("errorMessage"),
		AskedAt:      it.now(),
	}
	if node.String("inputType") == "media" {
		pending.Kind = model.InputMedia
		pending.MediaTypes = node.Strings("mediaTypes")
	} else if rule := node.Map("rule"); rule != nil {
		pending.Rule, _ = rule["kind"].(string)
		pending.Pattern, _ = rule["pattern"].(string)
	}
	return StepResult{Pending: pending}
}

func (it *Interpreter) stepMenu(ctx context.Context, exec *model.Execution, contact *model.Contact, node *model.Node) StepResult {
	options := node.Maps("options")
	if len(options) == 0 {
		return StepResult{Err: fmt.Errorf("menu node %s has no options", node.ID)}
	}

	var b strings.Builder
	b.WriteString(RenderTemplate(node.String("text"), exec.Variables))
	pending := &model.PendingResponse{
		NodeID:       node.ID,
		Variable:     node.String("variable"),
		Kind:         model.InputMenu,
		ErrorMessage: node.String("errorMessage"),
		AskedAt:      it.now(),
	}
	for _, opt := range options {
		value, _ := opt["value"].(string)
		label, _ := opt["label"].(string)
		pending.Options = append(pending.Options, model.MenuOption{Value: value, Label: label})
		b.WriteString("\n")
		b.WriteString(value)
		b.WriteString(" - ")
		b.WriteString(label)
	}
	it.sendText(ctx, exec, contact, b.String())
	return StepResult{Pending: pending}
}

func (it *Interpreter) stepConditional(exec *model.Execution, flow *model.FlowDefinition, node *model.Node) StepResult {
	for _, cond := range node.Maps("conditions") {
		handle, _ := cond["handle"].(string)
		src, _ := cond["expr"].(string)
		if handle == "" || src == "" {
			continue
		}
		ok, err := EvalCondition(src, exec.Variables)
		if err != nil {
			it.log.Warn("condition evaluation failed",
				zap.String("nodeId", node.ID),
				zap.String("expr", src),
				zap.Error(err))
			continue
		}
		if ok {
			return StepResult{Next: flow.NextFromHandle(node.ID, handle)}
		}
	}
	if def := node.String("defaultHandle"); def != "" {
		return StepResult{Next: flow.NextFromHandle(node.ID, def)}
	}
	return StepResult{Next: flow.NextNode(node.ID)}
}

func (it *Interpreter) stepWebhook(ctx context.Context, exec *model.Execution, flow *model.FlowDefinition, node *model.Node) StepResult {
	url := node.String("url")
	if url == "" {
		return StepResult{Err: fmt.Errorf("webhook node %s has no url", node.ID)}
	}
	req := WebhookRequest{
		URL:    RenderTemplate(url, exec.Variables),
		Method: strings.ToUpper(node.String("method")),
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if headers := node.Map("headers"); headers != nil {
		req.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Headers[k] = RenderTemplate(s, exec.Variables)
			}
		}
	}
	if body := node.Map("body"); body != nil {
		req.Body = make(map[string]any, len(body))
		for k, v := range body {
			if s, ok := v.(string); ok {
				req.Body[k] = RenderTemplate(s, exec.Variables)
			} else {
				req.Body[k] = v
			}
		}
	}

	resp, err := it.collab.Webhooks.Call(ctx, req)
	if err != nil {
		// attempted once; the flow moves on without bound variables
		it.log.Warn("webhook call failed",
			zap.String("nodeId", node.ID),
			zap.String("url", req.URL),
			zap.Error(err))
		return StepResult{Next: flow.NextNode(node.ID)}
	}

	if variable := node.String("variable"); variable != "" {
		exec.Variables[variable] = string(resp)
	}
	if mapping := node.Map("responseMap"); len(mapping) > 0 {
		parsed, perr := gabs.ParseJSON(resp)
		if perr != nil {
			it.log.Warn("webhook response is not JSON", zap.String("nodeId", node.ID), zap.Error(perr))
		} else {
			for varName, p := range mapping {
				path, _ := p.(string)
				if path == "" {
					continue
				}
				if v := parsed.Path(path); v != nil {
					exec.Variables[varName] = v.Data()
				}
			}
		}
	}
	return StepResult{Next: flow.NextNode(node.ID)}
}

func (it *Interpreter) stepAttendant(ctx context.Context, exec *model.Execution, ticket *model.Ticket, contact *model.Contact, node *model.Node) StepResult {
	if text := node.String("text"); text != "" {
		it.sendText(ctx, exec, contact, RenderTemplate(text, exec.Variables))
	}
	ticket.IsBot = false
	queueID := node.Int("queueId")
	if queueID != 0 {
		ticket.QueueID = &queueID
		if it.collab.Transfer != nil {
			if err := it.collab.Transfer.TransferTicketToQueue(ctx, ticket.ID, queueID); err != nil {
				it.log.Warn("queue transfer failed", zap.Int64("ticketId", ticket.ID), zap.Int64("queueId", queueID), zap.Error(err))
			}
		}
	}
	if err := it.tickets.UpdateTicket(ctx, ticket); err != nil {
		return StepResult{Err: fmt.Errorf("release ticket ownership: %w", err)}
	}
	return StepResult{Done: true, Reason: model.ReasonAttendant}
}

func (it *Interpreter) stepAssistant(ctx context.Context, exec *model.Execution, ticket *model.Ticket, contact *model.Contact, node *model.Node) StepResult {
	if it.collab.Assistant != nil {
		prompt := RenderTemplate(node.String("prompt"), exec.Variables)
		reply, err := it.collab.Assistant.Reply(ctx, prompt, exec.Variables)
		if err != nil {
			it.log.Warn("assistant reply failed", zap.String("nodeId", node.ID), zap.Error(err))
		} else if reply != "" {
			it.sendText(ctx, exec, contact, reply)
		}
	}
	ticket.UseIntegration = true
	if err := it.tickets.UpdateTicket(ctx, ticket); err != nil {
		return StepResult{Err: fmt.Errorf("mark ticket for assistant: %w", err)}
	}
	return StepResult{Done: true, Reason: model.ReasonAssistant}
}

func (it *Interpreter) sendText(ctx context.Context, exec *model.Execution, contact *model.Contact, text string) {
	if text == "" {
		return
	}
	if err := it.collab.Messenger.SendPresence(ctx, contact.Number, "composing"); err != nil {
		it.log.Debug("presence update failed", zap.String("number", contact.Number), zap.Error(err))
	}
	if err := it.collab.Messenger.SendText(ctx, contact.Number, text); err != nil {
		it.log.Warn("message send failed",
			zap.String("executionId", exec.ID),
			zap.String("number", contact.Number),
			zap.Error(err))
		return
	}
	it.publish(exec.CompanyID, map[string]any{
		"type":        "message.sent",
		"executionId": exec.ID,
		"ticketId":    exec.TicketID,
	})
}

func (it *Interpreter) persist(ctx context.Context, exec *model.Execution) error {
	exec.UpdatedAt = it.now()
	if err := it.store.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("persist execution %s: %w", exec.ID, err)
	}
	return nil
}

func (it *Interpreter) complete(ctx context.Context, exec *model.Execution, reason string) error {
	exec.Status = model.ExecutionCompleted
	exec.CompletedReason = reason
	exec.Pending = nil
	if err := it.persist(ctx, exec); err != nil {
		return err
	}
	it.publish(exec.CompanyID, map[string]any{
		"type":        "execution.completed",
		"executionId": exec.ID,
		"ticketId":    exec.TicketID,
		"reason":      reason,
	})
	return nil
}

func (it *Interpreter) publish(companyID int64, event map[string]any) {
	if it.events == nil {
		return
	}
	if err := it.events.PublishCompany(companyID, event); err != nil {
		it.log.Debug("event publish failed", zap.Error(err))
	}
}
