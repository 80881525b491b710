package engine

import (
	"context"
	"testing"

	"botflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func menuFlow() *model.FlowDefinition {
	return &model.FlowDefinition{
		ID:        "flow-menu",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "menu1", Type: model.NodeMenu, Data: map[string]any{
				"text":     "How can we help?",
				"variable": "choice",
				"options": []any{
					map[string]any{"value": "1", "label": "Sales"},
					map[string]any{"value": "2", "label": "Support"},
				},
			}},
			{ID: "sales", Type: model.NodeEnd, Data: map[string]any{"text": "Sales it is."}},
			{ID: "support", Type: model.NodeEnd, Data: map[string]any{"text": "Support it is."}},
		},
		Edges: []model.Edge{
			{Source: "s1", Target: "menu1"},
			{Source: "menu1", SourceHandle: "1", Target: "sales"},
			{Source: "menu1", SourceHandle: "2", Target: "support"},
		},
	}
}

func TestMenuComposesOptionsAndRoutesByHandle(t *testing.T) {
	ticket := testTicket()
	te := newTestEngine(DefaultConfig(), menuFlow(), ticket)
	contact := testContact()
	ctx := context.Background()
	integ := testIntegration("flow-menu")

	require.True(t, te.dispatcher.Handle(ctx, InboundMessage{Body: "Hi"}, ticket, contact, integ))

	texts := te.messenger.texts()
	require.Len(t, texts, 1)
	assert.Equal(t, "How can we help?\n1 - Sales\n2 - Support", texts[0])

	exec := te.store.active(1, 7)
	require.NotNil(t, exec)
	assert.Equal(t, model.InputMenu, exec.Pending.Kind)
	require.Len(t, exec.Pending.Options, 2)

	require.True(t, te.dispatcher.Handle(ctx, InboundMessage{Body: "2"}, ticket, contact, integ))

	done := te.store.get(exec.ID)
	assert.Equal(t, model.ExecutionCompleted, done.Status)
	assert.Equal(t, "2", done.Variables["choice"])
	texts = te.messenger.texts()
	assert.Equal(t, "Support it is.", texts[len(texts)-1])
}

func TestMenuAcceptsOptionLabel(t *testing.T) {
	ticket := testTicket()
	te := newTestEngine(DefaultConfig(), menuFlow(), ticket)
	contact := testContact()
	ctx := context.Background()
	integ := testIntegration("flow-menu")

	require.True(t, te.dispatcher.Handle(ctx, InboundMessage{Body: "Hi"}, ticket, contact, integ))
	require.True(t, te.dispatcher.Handle(ctx, InboundMessage{Body: "sales"}, ticket, contact, integ))

	texts := te.messenger.texts()
	assert.Equal(t, "Sales it is.", texts[len(texts)-1])
}

func conditionalFlow() *model.FlowDefinition {
	return &model.FlowDefinition{
		ID:        "flow-cond",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "q1", Type: model.NodeQuestion, Data: map[string]any{
				"text": "How old are you?", "variable": "age", "rule": nil,
			}},
			{ID: "c1", Type: model.NodeConditional, Data: map[string]any{
				"conditions": []any{
					map[string]any{"handle": "adult", "expr": `int(age) >= 18`},
				},
				"defaultHandle": "minor",
			}},
			{ID: "adult", Type: model.NodeEnd, Data: map[string]any{"text": "Welcome."}},
			{ID: "minor", Type: model.NodeEnd, Data: map[string]any{"text": "Come back later."}},
		},
		Edges: []model.Edge{
			{Source: "s1", Target: "q1"},
			{Source: "q1", Target: "c1"},
			{Source: "c1", SourceHandle: "adult", Target: "adult"},
			{Source: "c1", SourceHandle: "minor", Target: "minor"},
		},
	}
}

func TestConditionalRoutesOnExpression(t *testing.T) {
	for _, tc := range []struct {
		reply string
		want  string
	}{
		{"42", "Welcome."},
		{"12", "Come back later."},
	} {
		ticket := testTicket()
		te := newTestEngine(DefaultConfig(), conditionalFlow(), ticket)
		contact := testContact()
		ctx := context.Background()
		integ := testIntegration("flow-cond")

		require.True(t, te.dispatcher.Handle(ctx, InboundMessage{Body: "Hi"}, ticket, contact, integ))
		require.True(t, te.dispatcher.Handle(ctx, InboundMessage{Body: tc.reply}, ticket, contact, integ))

		texts := te.messenger.texts()
		assert.Equal(t, tc.want, texts[len(texts)-1], "reply %q", tc.reply)
	}
}

func TestWebhookBindsResponseVariables(t *testing.T) {
	flow := &model.FlowDefinition{
		ID:        "flow-webhook",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "w1", Type: model.NodeWebhook, Data: map[string]any{
				"url":    "https://api.example.com/orders/{{contactNumber}}",
				"method": "get",
				"headers": map[string]any{
					"Authorization": "Bearer token-123",
				},
				"variable": "orderRaw",
				"responseMap": map[string]any{
					"orderStatus": "order.status",
					"orderTotal":  "order.total",
				},
			}},
			{ID: "e1", Type: model.NodeEnd, Data: map[string]any{"text": "Your order is {{orderStatus}}."}},
		},
		Edges: []model.Edge{
			{Source: "s1", Target: "w1"},
			{Source: "w1", Target: "e1"},
		},
	}

	ticket := testTicket()
	te := newTestEngine(DefaultConfig(), flow, ticket)
	te.webhooks.response = []byte(`{"order":{"status":"shipped","total":129.9}}`)
	contact := testContact()

	require.True(t, te.dispatcher.Handle(context.Background(), InboundMessage{Body: "Hi"}, ticket, contact, testIntegration("flow-webhook")))

	require.Len(t, te.webhooks.calls, 1)
	req := te.webhooks.calls[0].Req
	assert.Equal(t, "https://api.example.com/orders/5511999990000", req.URL)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "Bearer token-123", req.Headers["Authorization"])

	exec := te.store.active(1, 7)
	require.Nil(t, exec)
	texts := te.messenger.texts()
	assert.Equal(t, "Your order is shipped.", texts[len(texts)-1])
}

func TestWebhookFailureContinuesFlow(t *testing.T) {
	flow := &model.FlowDefinition{
		ID:        "flow-webhook-fail",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "w1", Type: model.NodeWebhook, Data: map[string]any{
				"url": "https://api.example.com/down", "variable": "result",
			}},
			{ID: "e1", Type: model.NodeEnd, Data: map[string]any{"text": "Done anyway."}},
		},
		Edges: []model.Edge{
			{Source: "s1", Target: "w1"},
			{Source: "w1", Target: "e1"},
		},
	}

	ticket := testTicket()
	te := newTestEngine(DefaultConfig(), flow, ticket)
	te.webhooks.err = assert.AnError
	contact := testContact()

	require.True(t, te.dispatcher.Handle(context.Background(), InboundMessage{Body: "Hi"}, ticket, contact, testIntegration("flow-webhook-fail")))

	texts := te.messenger.texts()
	assert.Equal(t, "Done anyway.", texts[len(texts)-1])
}

func TestTagNodeAppliesTag(t *testing.T) {
	flow := &model.FlowDefinition{
		ID:        "flow-tag",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "t1", Type: model.NodeTag, Data: map[string]any{"tagId": float64(55)}},
			{ID: "e1", Type: model.NodeEnd},
		},
		Edges: []model.Edge{
			{Source: "s1", Target: "t1"},
			{Source: "t1", Target: "e1"},
		},
	}

	ticket := testTicket()
	te := newTestEngine(DefaultConfig(), flow, ticket)

	require.True(t, te.dispatcher.Handle(context.Background(), InboundMessage{Body: "Hi"}, ticket, testContact(), testIntegration("flow-tag")))
	assert.Equal(t, []int64{55}, te.tagger.tags)
}

func TestAttendantNodeReleasesTicket(t *testing.T) {
	flow := &model.FlowDefinition{
		ID:        "flow-attendant",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "a1", Type: model.NodeAttendant, Data: map[string]any{
				"text": "Transferring you now.", "queueId": float64(4),
			}},
		},
		Edges: []model.Edge{{Source: "s1", Target: "a1"}},
	}

	ticket := testTicket()
	te := newTestEngine(DefaultConfig(), flow, ticket)
	contact := testContact()

	require.True(t, te.dispatcher.Handle(context.Background(), InboundMessage{Body: "Hi"}, ticket, contact, testIntegration("flow-attendant")))

	assert.False(t, ticket.IsBot)
	require.NotNil(t, ticket.QueueID)
	assert.Equal(t, int64(4), *ticket.QueueID)
	assert.Equal(t, []int64{4}, te.transfer.queues)

	assert.Nil(t, te.store.active(1, 7))
	execs, _ := te.store.ListActiveExecutions(context.Background())
	assert.Empty(t, execs)
}

func TestAssistantNodeHandsOffToIntegration(t *testing.T) {
	flow := &model.FlowDefinition{
		ID:        "flow-ai",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "ai1", Type: model.NodeAssistant, Data: map[string]any{"prompt": "Greet {{contactName}}"}},
		},
		Edges: []model.Edge{{Source: "s1", Target: "ai1"}},
	}

	ticket := testTicket()
	te := newTestEngine(DefaultConfig(), flow, ticket)
	contact := testContact()

	require.True(t, te.dispatcher.Handle(context.Background(), InboundMessage{Body: "Hi"}, ticket, contact, testIntegration("flow-ai")))

	assert.True(t, ticket.UseIntegration)
	texts := te.messenger.texts()
	assert.Equal(t, "assistant says hi", texts[len(texts)-1])
	assert.Nil(t, te.store.active(1, 7))
}

func TestSwitchFlowStartsTargetFlow(t *testing.T) {
	ticket := testTicket()
	source := &model.FlowDefinition{
		ID:        "flow-source",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "sw1", Type: model.NodeSwitchFlow, Data: map[string]any{"flowId": "flow-greeting"}},
		},
		Edges: []model.Edge{{Source: "s1", Target: "sw1"}},
	}
	te := newTestEngine(DefaultConfig(), source, ticket)
	te.flows.flows["flow-greeting"] = greetingFlow()
	contact := testContact()

	require.True(t, te.dispatcher.Handle(context.Background(), InboundMessage{Body: "Hi"}, ticket, contact, testIntegration("flow-source")))

	// the new execution runs the target flow and suspends on its question
	exec := te.store.active(1, 7)
	require.NotNil(t, exec)
	assert.Equal(t, "flow-greeting", exec.FlowID)
	require.NotNil(t, exec.Pending)
	assert.Equal(t, "q1", exec.Pending.NodeID)
}

func TestMissingNodeHaltsWithoutCompleting(t *testing.T) {
	flow := &model.FlowDefinition{
		ID:        "flow-broken",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
		},
		Edges: []model.Edge{{Source: "s1", Target: "ghost"}},
	}

	ticket := testTicket()
	te := newTestEngine(DefaultConfig(), flow, ticket)

	require.True(t, te.dispatcher.Handle(context.Background(), InboundMessage{Body: "Hi"}, ticket, testContact(), testIntegration("flow-broken")))

	exec := te.store.active(1, 7)
	require.NotNil(t, exec)
	assert.Equal(t, model.ExecutionActive, exec.Status)
}

func TestStepBudgetStopsCyclicFlows(t *testing.T) {
	flow := &model.FlowDefinition{
		ID:        "flow-loop",
		CompanyID: 1,
		Nodes: []model.Node{
			{ID: "s1", Type: model.NodeStart},
			{ID: "m1", Type: model.NodeMessage, Data: map[string]any{"text": "again"}},
		},
		Edges: []model.Edge{
			{Source: "s1", Target: "m1"},
			{Source: "m1", Target: "m1"},
		},
	}

	cfg := DefaultConfig()
	cfg.MaxStepsPerRun = 5
	ticket := testTicket()
	te := newTestEngine(cfg, flow, ticket)

	require.True(t, te.dispatcher.Handle(context.Background(), InboundMessage{Body: "Hi"}, ticket, testContact(), testIntegration("flow-loop")))

	// start node plus four message visits
	assert.Len(t, te.messenger.texts(), 4)
}
