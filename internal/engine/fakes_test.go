package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botflow/internal/model"

	"go.uber.org/zap"
)

// In-memory fakes shared by the engine tests. The store enforces the
// same single-active-execution rule the Postgres partial index does.

type fakeStore struct {
	mu    sync.Mutex
	execs map[string]*model.Execution
}

func newFakeStore() *fakeStore {
	return &fakeStore{execs: make(map[string]*model.Execution)}
}

func (s *fakeStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec.Status == model.ExecutionActive {
		for _, e := range s.execs {
			if e.Status == model.ExecutionActive && e.CompanyID == exec.CompanyID && e.ContactID == exec.ContactID {
				return fmt.Errorf("duplicate active execution for contact %d", exec.ContactID)
			}
		}
	}
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; !ok {
		return fmt.Errorf("execution %s not found", exec.ID)
	}
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}

func (s *fakeStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[id]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) ActiveExecutionByContact(ctx context.Context, companyID, contactID int64) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.execs {
		if e.Status == model.ExecutionActive && e.CompanyID == companyID && e.ContactID == contactID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListActiveExecutions(ctx context.Context) ([]*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Execution
	for _, e := range s.execs {
		if e.Status == model.ExecutionActive {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CompleteExecutionIfActive(ctx context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[id]
	if !ok || e.Status != model.ExecutionActive {
		return false, nil
	}
	e.Status = model.ExecutionCompleted
	e.CompletedReason = reason
	e.Pending = nil
	return true, nil
}

func (s *fakeStore) get(id string) *model.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execs[id]
}

func (s *fakeStore) active(companyID, contactID int64) *model.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.execs {
		if e.Status == model.ExecutionActive && e.CompanyID == companyID && e.ContactID == contactID {
			return e
		}
	}
	return nil
}

type sentMessage struct {
	Number string
	Text   string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
}

func (m *fakeMessenger) SendText(ctx context.Context, number, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMessage{Number: number, Text: text})
	return nil
}

func (m *fakeMessenger) SendPresence(ctx context.Context, number, state string) error {
	return nil
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

type fakeFlows struct {
	flows map[string]*model.FlowDefinition
}

func (f *fakeFlows) Definition(ctx context.Context, flowID string) (*model.FlowDefinition, error) {
	flow, ok := f.flows[flowID]
	if !ok {
		return nil, fmt.Errorf("flow %s not found", flowID)
	}
	return flow, nil
}

type fakeTickets struct {
	mu      sync.Mutex
	tickets map[int64]*model.Ticket
	updates int
}

func newFakeTickets(ts ...*model.Ticket) *fakeTickets {
	f := &fakeTickets{tickets: make(map[int64]*model.Ticket)}
	for _, t := range ts {
		f.tickets[t.ID] = t
	}
	return f
}

func (f *fakeTickets) GetTicket(ctx context.Context, id int64) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %d not found", id)
	}
	return t, nil
}

func (f *fakeTickets) UpdateTicket(ctx context.Context, t *model.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[t.ID] = t
	f.updates++
	return nil
}

type fakeIntegrations struct {
	integrations map[int64]*model.Integration
}

func (f *fakeIntegrations) GetIntegration(ctx context.Context, id, companyID int64) (*model.Integration, error) {
	i, ok := f.integrations[id]
	if !ok || i.CompanyID != companyID {
		return nil, fmt.Errorf("integration %d not found", id)
	}
	return i, nil
}

type fakeMessages struct {
	messages map[string]*model.StoredMessage
}

func (f *fakeMessages) GetMessageByID(ctx context.Context, companyID int64, id string) (*model.StoredMessage, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return m, nil
}

type fakeMedia struct {
	info *model.MediaInfo
	err  error
}

func (f *fakeMedia) ExtractMediaInfo(ctx context.Context, m *model.StoredMessage) (*model.MediaInfo, error) {
	return f.info, f.err
}

type fakeAppointments struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAppointments) HandleAppointment(ctx context.Context, msg InboundMessage, t *model.Ticket, c *model.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type fakeTagger struct {
	mu   sync.Mutex
	tags []int64
}

func (f *fakeTagger) ApplyTag(ctx context.Context, ticketID, tagID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tagID)
	return nil
}

type fakeTransfer struct {
	mu     sync.Mutex
	queues []int64
}

func (f *fakeTransfer) TransferTicketToQueue(ctx context.Context, ticketID, queueID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, queueID)
	return nil
}

type fakeAssistant struct {
	reply string
	err   error
}

func (f *fakeAssistant) Reply(ctx context.Context, prompt string, vars map[string]any) (string, error) {
	return f.reply, f.err
}

type webhookCall struct {
	Req WebhookRequest
}

type fakeWebhooks struct {
	mu       sync.Mutex
	calls    []webhookCall
	response []byte
	err      error
}

func (f *fakeWebhooks) Call(ctx context.Context, req WebhookRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, webhookCall{Req: req})
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []map[string]any
}

func (f *fakeEvents) PublishCompany(companyID int64, event map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) PublishTicket(ticketID int64, event map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if t, ok := e["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

type fakeScheduler struct {
	mu      sync.Mutex
	expires []string
}

func (f *fakeScheduler) ScheduleExpiry(executionID string, in time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires = append(f.expires, executionID)
	return nil
}

// testClock is a manually advanced clock shared across an engine under test
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testEngine bundles a dispatcher with all its fakes
type testEngine struct {
	dispatcher *Dispatcher
	store      *fakeStore
	messenger  *fakeMessenger
	tickets    *fakeTickets
	flows      *fakeFlows
	events     *fakeEvents
	scheduler  *fakeScheduler
	webhooks     *fakeWebhooks
	tagger       *fakeTagger
	transfer     *fakeTransfer
	appointments *fakeAppointments
	messages     *fakeMessages
	media        *fakeMedia
	clock        *testClock
}

func newTestEngine(cfg Config, flow *model.FlowDefinition, ticket *model.Ticket) *testEngine {
	te := &testEngine{
		store:        newFakeStore(),
		messenger:    &fakeMessenger{},
		tickets:      newFakeTickets(ticket),
		flows:        &fakeFlows{flows: map[string]*model.FlowDefinition{flow.ID: flow}},
		events:       &fakeEvents{},
		scheduler:    &fakeScheduler{},
		webhooks:     &fakeWebhooks{response: []byte(`{}`)},
		tagger:       &fakeTagger{},
		transfer:     &fakeTransfer{},
		appointments: &fakeAppointments{},
		messages:     &fakeMessages{messages: map[string]*model.StoredMessage{}},
		media:        &fakeMedia{},
		clock:        newTestClock(),
	}
	te.dispatcher = NewDispatcher(cfg, Deps{
		Store:        te.store,
		Tickets:      te.tickets,
		Integrations: &fakeIntegrations{},
		Flows:        te.flows,
		Messages:     te.messages,
		Media:        te.media,
		Appointments: te.appointments,
		Events:       te.events,
		Scheduler:    te.scheduler,
		Collab: Collaborators{
			Messenger: te.messenger,
			Webhooks:  te.webhooks,
			Tagger:    te.tagger,
			Transfer:  te.transfer,
			Assistant: &fakeAssistant{reply: "assistant says hi"},
		},
		Log: zap.NewNop(),
		Now: te.clock.Now,
	})
	return te
}

func testTicket() *model.Ticket {
	return &model.Ticket{ID: 10, CompanyID: 1, ContactID: 7, Status: model.TicketStatusPending}
}

func testContact() *model.Contact {
	return &model.Contact{ID: 7, CompanyID: 1, Name: "Ana", Number: "5511999990000"}
}

func testIntegration(flowID string) *model.Integration {
	return &model.Integration{ID: 3, CompanyID: 1, Type: model.IntegrationTypeFlow, FlowID: flowID}
}
