package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"botflow/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries wraps database queries. It satisfies the engine's Store,
// TicketStore, IntegrationStore, MessageStore, Tagger and Transfer
// interfaces.
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

const executionColumns = `id, company_id, contact_id, ticket_id, flow_id, current_node_id,
	status, variables, pending, completed_reason, inactivity_status,
	inactivity_warnings_sent, last_warning_at, last_interaction_at, created_at, updated_at`

// Execution queries

func (q *Queries) CreateExecution(ctx context.Context, exec *model.Execution) error {
	variables, pending, err := marshalExecutionState(exec)
	if err != nil {
		return err
	}
	_, err = q.Pool.Exec(ctx,
		`INSERT INTO flow_executions (
			id, company_id, contact_id, ticket_id, flow_id, current_node_id,
			status, variables, pending, completed_reason, inactivity_status,
			inactivity_warnings_sent, last_warning_at, last_interaction_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())`,
		exec.ID, exec.CompanyID, exec.ContactID, exec.TicketID, exec.FlowID, exec.CurrentNodeID,
		exec.Status, variables, pending, exec.CompletedReason, exec.InactivityStatus,
		exec.InactivityWarningsSent, exec.LastWarningAt, exec.LastInteractionAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (q *Queries) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	variables, pending, err := marshalExecutionState(exec)
	if err != nil {
		return err
	}
	_, err = q.Pool.Exec(ctx,
		`UPDATE flow_executions SET
			current_node_id = $2, status = $3, variables = $4, pending = $5,
			completed_reason = $6, inactivity_status = $7, inactivity_warnings_sent = $8,
			last_warning_at = $9, last_interaction_at = $10, updated_at = NOW()
		WHERE id = $1`,
		exec.ID, exec.CurrentNodeID, exec.Status, variables, pending,
		exec.CompletedReason, exec.InactivityStatus, exec.InactivityWarningsSent,
		exec.LastWarningAt, exec.LastInteractionAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return nil
}

func (q *Queries) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := q.Pool.QueryRow(ctx,
		"SELECT "+executionColumns+" FROM flow_executions WHERE id = $1", id)
	return scanExecution(row)
}

func (q *Queries) ActiveExecutionByContact(ctx context.Context, companyID, contactID int64) (*model.Execution, error) {
	row := q.Pool.QueryRow(ctx,
		"SELECT "+executionColumns+` FROM flow_executions
		WHERE company_id = $1 AND contact_id = $2 AND status = 'active'`,
		companyID, contactID)
	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return exec, err
}

func (q *Queries) ListActiveExecutions(ctx context.Context) ([]*model.Execution, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT "+executionColumns+" FROM flow_executions WHERE status = 'active' ORDER BY last_interaction_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*model.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// CompleteExecutionIfActive flips an active execution to completed.
// RowsAffected tells whether this caller won the flip, which is what
// makes end-of-flow side effects exactly-once across sweeps.
func (q *Queries) CompleteExecutionIfActive(ctx context.Context, id, reason string) (bool, error) {
	result, err := q.Pool.Exec(ctx,
		`UPDATE flow_executions
		SET status = 'completed', completed_reason = $2, pending = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`,
		id, reason)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func marshalExecutionState(exec *model.Execution) ([]byte, []byte, error) {
	variables, err := json.Marshal(exec.Variables)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal variables: %w", err)
	}
	var pending []byte
	if exec.Pending != nil {
		pending, err = json.Marshal(exec.Pending)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal pending state: %w", err)
		}
	}
	return variables, pending, nil
}

func scanExecution(row pgx.Row) (*model.Execution, error) {
	var exec model.Execution
	var variables, pending []byte
	err := row.Scan(
		&exec.ID, &exec.CompanyID, &exec.ContactID, &exec.TicketID, &exec.FlowID, &exec.CurrentNodeID,
		&exec.Status, &variables, &pending, &exec.CompletedReason, &exec.InactivityStatus,
		&exec.InactivityWarningsSent, &exec.LastWarningAt, &exec.LastInteractionAt,
		&exec.CreatedAt, &exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &exec.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}
	if exec.Variables == nil {
		exec.Variables = make(map[string]any)
	}
	if len(pending) > 0 {
		exec.Pending = &model.PendingResponse{}
		if err := json.Unmarshal(pending, exec.Pending); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending state: %w", err)
		}
	}
	return &exec, nil
}

// Ticket queries

func (q *Queries) GetTicket(ctx context.Context, id int64) (*model.Ticket, error) {
	var t model.Ticket
	err := q.Pool.QueryRow(ctx,
		`SELECT id, company_id, contact_id, status, queue_id, appointment_mode,
			appointment_mode_at, is_bot, integration_id, flow_execution_id,
			use_integration, updated_at
		FROM tickets WHERE id = $1`, id,
	).Scan(
		&t.ID, &t.CompanyID, &t.ContactID, &t.Status, &t.QueueID, &t.AppointmentMode,
		&t.AppointmentModeAt, &t.IsBot, &t.IntegrationID, &t.FlowExecutionID,
		&t.UseIntegration, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *Queries) UpdateTicket(ctx context.Context, t *model.Ticket) error {
	_, err := q.Pool.Exec(ctx,
		`UPDATE tickets SET
			status = $2, queue_id = $3, appointment_mode = $4, appointment_mode_at = $5,
			is_bot = $6, integration_id = $7, flow_execution_id = $8, use_integration = $9,
			updated_at = NOW()
		WHERE id = $1`,
		t.ID, t.Status, t.QueueID, t.AppointmentMode, t.AppointmentModeAt,
		t.IsBot, t.IntegrationID, t.FlowExecutionID, t.UseIntegration,
	)
	return err
}

// OpenTicketByContact returns the contact's most recent non-closed
// ticket, or (nil, nil) when none exists.
func (q *Queries) OpenTicketByContact(ctx context.Context, companyID, contactID int64) (*model.Ticket, error) {
	var t model.Ticket
	err := q.Pool.QueryRow(ctx,
		`SELECT id, company_id, contact_id, status, queue_id, appointment_mode,
			appointment_mode_at, is_bot, integration_id, flow_execution_id,
			use_integration, updated_at
		FROM tickets
		WHERE company_id = $1 AND contact_id = $2 AND status != 'closed'
		ORDER BY updated_at DESC LIMIT 1`,
		companyID, contactID,
	).Scan(
		&t.ID, &t.CompanyID, &t.ContactID, &t.Status, &t.QueueID, &t.AppointmentMode,
		&t.AppointmentModeAt, &t.IsBot, &t.IntegrationID, &t.FlowExecutionID,
		&t.UseIntegration, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *Queries) CreateTicket(ctx context.Context, companyID, contactID int64) (*model.Ticket, error) {
	var t model.Ticket
	err := q.Pool.QueryRow(ctx,
		`INSERT INTO tickets (company_id, contact_id, status, is_bot)
		VALUES ($1, $2, 'pending', false)
		RETURNING id, company_id, contact_id, status, queue_id, appointment_mode,
			appointment_mode_at, is_bot, integration_id, flow_execution_id,
			use_integration, updated_at`,
		companyID, contactID,
	).Scan(
		&t.ID, &t.CompanyID, &t.ContactID, &t.Status, &t.QueueID, &t.AppointmentMode,
		&t.AppointmentModeAt, &t.IsBot, &t.IntegrationID, &t.FlowExecutionID,
		&t.UseIntegration, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TransferTicketToQueue moves a ticket into an attendant queue and
// releases bot ownership.
func (q *Queries) TransferTicketToQueue(ctx context.Context, ticketID, queueID int64) error {
	_, err := q.Pool.Exec(ctx,
		`UPDATE tickets SET queue_id = $2, status = 'pending', is_bot = false, updated_at = NOW()
		WHERE id = $1`,
		ticketID, queueID)
	return err
}

// ApplyTag records a tag on a ticket (tag node side effect)
func (q *Queries) ApplyTag(ctx context.Context, ticketID, tagID int64) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO ticket_tags (ticket_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (ticket_id, tag_id) DO NOTHING`,
		ticketID, tagID)
	return err
}

// Contact queries

func (q *Queries) UpsertContact(ctx context.Context, companyID int64, name, number string) (*model.Contact, error) {
	var c model.Contact
	err := q.Pool.QueryRow(ctx,
		`INSERT INTO contacts (company_id, name, number)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, number) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, company_id, name, number`,
		companyID, name, number,
	).Scan(&c.ID, &c.CompanyID, &c.Name, &c.Number)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *Queries) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	var c model.Contact
	err := q.Pool.QueryRow(ctx,
		"SELECT id, company_id, name, number FROM contacts WHERE id = $1", id,
	).Scan(&c.ID, &c.CompanyID, &c.Name, &c.Number)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Integration queries

func (q *Queries) GetIntegration(ctx context.Context, id, companyID int64) (*model.Integration, error) {
	var i model.Integration
	err := q.Pool.QueryRow(ctx,
		"SELECT id, company_id, type, flow_id FROM integrations WHERE id = $1 AND company_id = $2",
		id, companyID,
	).Scan(&i.ID, &i.CompanyID, &i.Type, &i.FlowID)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// Message queries

func (q *Queries) CreateMessage(ctx context.Context, m *model.StoredMessage) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO messages (id, company_id, ticket_id, body, media_type, media_url, from_me, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.CompanyID, m.TicketID, m.Body, m.MediaType, m.MediaURL, m.FromMe)
	return err
}

func (q *Queries) GetMessageByID(ctx context.Context, companyID int64, id string) (*model.StoredMessage, error) {
	var m model.StoredMessage
	err := q.Pool.QueryRow(ctx,
		`SELECT id, company_id, ticket_id, body, media_type, media_url, from_me, created_at
		FROM messages WHERE id = $1 AND company_id = $2`,
		id, companyID,
	).Scan(&m.ID, &m.CompanyID, &m.TicketID, &m.Body, &m.MediaType, &m.MediaURL, &m.FromMe, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Flow definition queries. Definitions are stored as raw JSONB and
// parsed/validated by the flow registry.

type FlowRow struct {
	ID         string
	CompanyID  int64
	Name       string
	Definition []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (q *Queries) GetFlow(ctx context.Context, id string) (FlowRow, error) {
	var f FlowRow
	err := q.Pool.QueryRow(ctx,
		"SELECT id, company_id, name, definition, created_at, updated_at FROM flows WHERE id = $1", id,
	).Scan(&f.ID, &f.CompanyID, &f.Name, &f.Definition, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func (q *Queries) UpsertFlow(ctx context.Context, id string, companyID int64, name string, definition []byte) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO flows (id, company_id, name, definition)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, definition = EXCLUDED.definition, updated_at = NOW()`,
		id, companyID, name, definition)
	return err
}

func (q *Queries) ListFlows(ctx context.Context, companyID int64) ([]FlowRow, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT id, company_id, name, definition, created_at, updated_at FROM flows WHERE company_id = $1 ORDER BY created_at ASC",
		companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []FlowRow
	for rows.Next() {
		var f FlowRow
		if err := rows.Scan(&f.ID, &f.CompanyID, &f.Name, &f.Definition, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
