package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/queuedesk-io/queuedesk/internal/models"
)

// EngineerSQLRepository implements EngineerRepository against Postgres.
type EngineerSQLRepository struct {
	db *sqlx.DB
}

// NewEngineerRepository creates a Postgres-backed engineer repository.
func NewEngineerRepository(db *sqlx.DB) *EngineerSQLRepository {
	return &EngineerSQLRepository{db: db}
}

const engineerColumns = `id, user_id, name, capacity, current_load, is_available, specializations, create_time, change_time`

func (r *EngineerSQLRepository) FindByID(ctx context.Context, id uint) (*models.Engineer, error) {
	var e models.Engineer
	query := fmt.Sprintf("SELECT %s FROM engineers WHERE id = $1", engineerColumns)
	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find engineer %d: %w", id, err)
	}
	return &e, nil
}

func (r *EngineerSQLRepository) FindByUserID(ctx context.Context, userID uint) (*models.Engineer, error) {
	var e models.Engineer
	query := fmt.Sprintf("SELECT %s FROM engineers WHERE user_id = $1", engineerColumns)
	if err := r.db.GetContext(ctx, &e, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find engineer by user %d: %w", userID, err)
	}
	return &e, nil
}

func (r *EngineerSQLRepository) ListAvailable(ctx context.Context) ([]*models.Engineer, error) {
	var engineers []*models.Engineer
	query := fmt.Sprintf("SELECT %s FROM engineers WHERE is_available = TRUE ORDER BY id", engineerColumns)
	if err := r.db.SelectContext(ctx, &engineers, query); err != nil {
		return nil, fmt.Errorf("list available engineers: %w", err)
	}
	return engineers, nil
}

// AdjustLoad applies delta to current_load in a single statement so two
// concurrent adjustments can never interleave. GREATEST floors the counter
// at zero for repeated releases.
func (r *EngineerSQLRepository) AdjustLoad(ctx context.Context, engineerID uint, delta int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE engineers SET current_load = GREATEST(current_load + $1, 0), change_time = NOW() WHERE id = $2",
		delta, engineerID)
	if err != nil {
		return fmt.Errorf("adjust engineer %d load: %w", engineerID, err)
	}
	return requireRow(res)
}
