package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/queuedesk-io/queuedesk/internal/models"
)

// ClientSQLRepository implements ClientRepository against Postgres.
type ClientSQLRepository struct {
	db *sqlx.DB
}

// NewClientRepository creates a Postgres-backed client repository.
func NewClientRepository(db *sqlx.DB) *ClientSQLRepository {
	return &ClientSQLRepository{db: db}
}

const clientColumns = `id, user_id, name, queue_position, assigned_engineer_id, in_queue, create_time, change_time`

func (r *ClientSQLRepository) FindByID(ctx context.Context, id uint) (*models.Client, error) {
	var c models.Client
	query := fmt.Sprintf("SELECT %s FROM clients WHERE id = $1", clientColumns)
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find client %d: %w", id, err)
	}
	return &c, nil
}

func (r *ClientSQLRepository) FindByUserID(ctx context.Context, userID uint) (*models.Client, error) {
	var c models.Client
	query := fmt.Sprintf("SELECT %s FROM clients WHERE user_id = $1", clientColumns)
	if err := r.db.GetContext(ctx, &c, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find client by user %d: %w", userID, err)
	}
	return &c, nil
}

func (r *ClientSQLRepository) UpdateQueueState(ctx context.Context, clientID uint, position int, inQueue bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE clients SET queue_position = $1, in_queue = $2, change_time = NOW() WHERE id = $3",
		position, inQueue, clientID)
	if err != nil {
		return fmt.Errorf("update client %d queue state: %w", clientID, err)
	}
	return requireRow(res)
}

func (r *ClientSQLRepository) UpdateAssignment(ctx context.Context, clientID uint, engineerID *uint) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE clients
		 SET assigned_engineer_id = $1,
		     queue_position = CASE WHEN $1 IS NULL THEN queue_position ELSE 0 END,
		     in_queue = CASE WHEN $1 IS NULL THEN in_queue ELSE FALSE END,
		     change_time = NOW()
		 WHERE id = $2`,
		engineerID, clientID)
	if err != nil {
		return fmt.Errorf("update client %d assignment: %w", clientID, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
