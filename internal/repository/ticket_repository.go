package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/queuedesk-io/queuedesk/internal/models"
)

// TicketSQLRepository implements TicketRepository against Postgres. Messages
// live in their own table; assignment and status updates are atomic against
// the ticket row.
type TicketSQLRepository struct {
	db *sqlx.DB
}

// NewTicketRepository creates a Postgres-backed ticket repository.
func NewTicketRepository(db *sqlx.DB) *TicketSQLRepository {
	return &TicketSQLRepository{db: db}
}

const ticketColumns = `t.id, t.subject, t.description, t.priority, t.status, t.category,
	t.client_id, t.assigned_engineer_id, t.create_time, t.change_time`

func (r *TicketSQLRepository) Create(ctx context.Context, t *models.Ticket) error {
	if t.Status == "" {
		t.Status = models.StatusOpen
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	row := r.db.QueryRowxContext(ctx,
		`INSERT INTO tickets (subject, description, priority, status, category, client_id, assigned_engineer_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, create_time, change_time`,
		t.Subject, t.Description, t.Priority, t.Status, t.Category, t.ClientID, t.AssignedEngineerID)
	if err := row.Scan(&t.ID, &t.CreateTime, &t.ChangeTime); err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (r *TicketSQLRepository) GetByID(ctx context.Context, id uint) (*models.Ticket, error) {
	var t models.Ticket
	query := fmt.Sprintf(`SELECT %s,
		COALESCE(c.name, '') AS client_name,
		COALESCE(e.name, '') AS engineer_name
		FROM tickets t
		JOIN clients c ON c.id = t.client_id
		LEFT JOIN engineers e ON e.id = t.assigned_engineer_id
		WHERE t.id = $1`, ticketColumns)
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	if err := r.db.SelectContext(ctx, &t.Messages,
		`SELECT id, ticket_id, sender_id, sender_name, sender_role, content, create_time
		 FROM ticket_messages WHERE ticket_id = $1 ORDER BY create_time, id`, id); err != nil {
		return nil, fmt.Errorf("load ticket %d messages: %w", id, err)
	}
	return &t, nil
}

// UpdateStatusFrom makes the status predicate part of the write so that two
// racing transitions cannot both commit; the loser sees ErrConflict.
func (r *TicketSQLRepository) UpdateStatusFrom(ctx context.Context, t *models.Ticket, fromStatus string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets
		 SET status = $1, assigned_engineer_id = $2, change_time = NOW()
		 WHERE id = $3 AND status = $4`,
		t.Status, t.AssignedEngineerID, t.ID, fromStatus)
	if err != nil {
		return fmt.Errorf("transition ticket %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *TicketSQLRepository) AppendMessage(ctx context.Context, ticketID uint, m *models.Message) error {
	m.TicketID = ticketID
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ticket_messages (id, ticket_id, sender_id, sender_name, sender_role, content, create_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.TicketID, m.SenderID, m.SenderName, m.SenderRole, m.Content, m.CreateTime)
	if err != nil {
		return fmt.Errorf("append message to ticket %d: %w", ticketID, err)
	}
	_, err = r.db.ExecContext(ctx, "UPDATE tickets SET change_time = NOW() WHERE id = $1", ticketID)
	if err != nil {
		return fmt.Errorf("touch ticket %d: %w", ticketID, err)
	}
	return nil
}

func (r *TicketSQLRepository) ListByClient(ctx context.Context, clientID uint) ([]*models.Ticket, error) {
	return r.selectTickets(ctx, "WHERE t.client_id = $1", 0, clientID)
}

func (r *TicketSQLRepository) ListByEngineer(ctx context.Context, engineerID uint) ([]*models.Ticket, error) {
	return r.selectTickets(ctx, "WHERE t.assigned_engineer_id = $1", 0, engineerID)
}

func (r *TicketSQLRepository) ListOpenUnassigned(ctx context.Context) ([]*models.Ticket, error) {
	return r.selectTickets(ctx, "WHERE t.assigned_engineer_id IS NULL AND t.status = 'open'", 0)
}

func (r *TicketSQLRepository) ListRecent(ctx context.Context, limit int, clientID, engineerID *uint) ([]*models.Ticket, error) {
	where := "WHERE TRUE"
	args := []any{}
	if clientID != nil {
		args = append(args, *clientID)
		where += fmt.Sprintf(" AND t.client_id = $%d", len(args))
	}
	if engineerID != nil {
		args = append(args, *engineerID)
		where += fmt.Sprintf(" AND t.assigned_engineer_id = $%d", len(args))
	}
	return r.selectTickets(ctx, where, limit, args...)
}

func (r *TicketSQLRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryxContext(ctx, "SELECT status, COUNT(*) FROM tickets GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count tickets by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan ticket count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *TicketSQLRepository) ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]*models.Ticket, error) {
	return r.selectTickets(ctx, "WHERE t.status = 'resolved' AND t.change_time < $1", 0, cutoff)
}

// selectTickets runs a filtered list query. Messages are not loaded for list
// views; callers needing the full conversation use GetByID.
func (r *TicketSQLRepository) selectTickets(ctx context.Context, where string, limit int, args ...any) ([]*models.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s,
		COALESCE(c.name, '') AS client_name,
		COALESCE(e.name, '') AS engineer_name
		FROM tickets t
		JOIN clients c ON c.id = t.client_id
		LEFT JOIN engineers e ON e.id = t.assigned_engineer_id
		%s ORDER BY t.create_time DESC`, ticketColumns, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var tickets []*models.Ticket
	if err := r.db.SelectContext(ctx, &tickets, query, args...); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}
