package repository

import (
	"context"
	"errors"
	"time"

	"github.com/queuedesk-io/queuedesk/internal/models"
)

// ErrNotFound is returned by all repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned by conditional writes when the row no longer
// matches the state it was read in.
var ErrConflict = errors.New("record changed concurrently")

// ClientRepository stores requester profiles. Each update touches a single
// row and is atomic on its own.
type ClientRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Client, error)
	FindByUserID(ctx context.Context, userID uint) (*models.Client, error)
	UpdateQueueState(ctx context.Context, clientID uint, position int, inQueue bool) error
	UpdateAssignment(ctx context.Context, clientID uint, engineerID *uint) error
}

// EngineerRepository stores responder profiles and their load counters.
type EngineerRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Engineer, error)
	FindByUserID(ctx context.Context, userID uint) (*models.Engineer, error)
	ListAvailable(ctx context.Context) ([]*models.Engineer, error)
	// AdjustLoad atomically applies delta to current_load, clamped at zero.
	AdjustLoad(ctx context.Context, engineerID uint, delta int) error
}

// TicketRepository stores tickets and their append-only message sequences.
type TicketRepository interface {
	Create(ctx context.Context, t *models.Ticket) error
	GetByID(ctx context.Context, id uint) (*models.Ticket, error)
	// UpdateStatusFrom persists the status and assignment of t only when the
	// stored status still equals fromStatus. ErrConflict reports that the row
	// moved on since it was read. There is no unconditional update; every
	// lifecycle write carries its predicate.
	UpdateStatusFrom(ctx context.Context, t *models.Ticket, fromStatus string) error
	AppendMessage(ctx context.Context, ticketID uint, m *models.Message) error
	ListByClient(ctx context.Context, clientID uint) ([]*models.Ticket, error)
	ListByEngineer(ctx context.Context, engineerID uint) ([]*models.Ticket, error)
	ListOpenUnassigned(ctx context.Context) ([]*models.Ticket, error)
	ListRecent(ctx context.Context, limit int, clientID, engineerID *uint) ([]*models.Ticket, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]*models.Ticket, error)
}
