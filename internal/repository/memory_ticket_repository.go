package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/queuedesk-io/queuedesk/internal/models"
)

// MemoryTicketRepository implements TicketRepository with in-memory storage.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[uint]*models.Ticket
	nextID  uint
}

// NewMemoryTicketRepository creates a new in-memory ticket repository.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[uint]*models.Ticket),
		nextID:  1001, // Start from 1001 to avoid conflicts with seeded data
	}
}

func (r *MemoryTicketRepository) Create(_ context.Context, t *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t.ID = r.nextID
	r.nextID++

	now := time.Now()
	t.CreateTime = now
	t.ChangeTime = now
	if t.Status == "" {
		t.Status = models.StatusOpen
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}

	cp := copyTicket(t)
	r.tickets[t.ID] = cp
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id uint) (*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTicket(t), nil
}

func (r *MemoryTicketRepository) UpdateStatusFrom(_ context.Context, t *models.Ticket, fromStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[t.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != fromStatus {
		return ErrConflict
	}
	stored.Status = t.Status
	if t.AssignedEngineerID != nil {
		id := *t.AssignedEngineerID
		stored.AssignedEngineerID = &id
	} else {
		stored.AssignedEngineerID = nil
	}
	stored.EngineerName = t.EngineerName
	stored.ChangeTime = time.Now()
	t.ChangeTime = stored.ChangeTime
	return nil
}

func (r *MemoryTicketRepository) AppendMessage(_ context.Context, ticketID uint, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[ticketID]
	if !ok {
		return ErrNotFound
	}
	m.TicketID = ticketID
	t.Messages = append(t.Messages, *m)
	t.ChangeTime = time.Now()
	return nil
}

func (r *MemoryTicketRepository) ListByClient(_ context.Context, clientID uint) ([]*models.Ticket, error) {
	return r.list(func(t *models.Ticket) bool { return t.ClientID == clientID }, 0)
}

func (r *MemoryTicketRepository) ListByEngineer(_ context.Context, engineerID uint) ([]*models.Ticket, error) {
	return r.list(func(t *models.Ticket) bool {
		return t.AssignedEngineerID != nil && *t.AssignedEngineerID == engineerID
	}, 0)
}

func (r *MemoryTicketRepository) ListOpenUnassigned(_ context.Context) ([]*models.Ticket, error) {
	return r.list(func(t *models.Ticket) bool {
		return t.Status == models.StatusOpen && t.AssignedEngineerID == nil
	}, 0)
}

func (r *MemoryTicketRepository) ListRecent(_ context.Context, limit int, clientID, engineerID *uint) ([]*models.Ticket, error) {
	return r.list(func(t *models.Ticket) bool {
		if clientID != nil && t.ClientID != *clientID {
			return false
		}
		if engineerID != nil && (t.AssignedEngineerID == nil || *t.AssignedEngineerID != *engineerID) {
			return false
		}
		return true
	}, limit)
}

func (r *MemoryTicketRepository) CountByStatus(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, t := range r.tickets {
		counts[t.Status]++
	}
	return counts, nil
}

func (r *MemoryTicketRepository) ListResolvedBefore(_ context.Context, cutoff time.Time) ([]*models.Ticket, error) {
	return r.list(func(t *models.Ticket) bool {
		return t.Status == models.StatusResolved && t.ChangeTime.Before(cutoff)
	}, 0)
}

// list returns copies of matching tickets, newest first. limit of 0 means all.
func (r *MemoryTicketRepository) list(match func(*models.Ticket) bool, limit int) ([]*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Ticket
	for _, t := range r.tickets {
		if match(t) {
			out = append(out, copyTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime.After(out[j].CreateTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyTicket(t *models.Ticket) *models.Ticket {
	cp := *t
	if t.AssignedEngineerID != nil {
		id := *t.AssignedEngineerID
		cp.AssignedEngineerID = &id
	}
	cp.Messages = make([]models.Message, len(t.Messages))
	copy(cp.Messages, t.Messages)
	return &cp
}
