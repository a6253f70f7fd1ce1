package repository

import (
	"context"
	"sync"
	"time"

	"github.com/queuedesk-io/queuedesk/internal/models"
)

// MemoryClientRepository implements ClientRepository with in-memory storage.
// This is for development/testing. Production uses the Postgres implementation.
type MemoryClientRepository struct {
	mu      sync.RWMutex
	clients map[uint]*models.Client
	nextID  uint
}

// NewMemoryClientRepository creates a new in-memory client repository.
func NewMemoryClientRepository() *MemoryClientRepository {
	return &MemoryClientRepository{
		clients: make(map[uint]*models.Client),
		nextID:  1,
	}
}

// Seed inserts a client directly, assigning an ID when missing. Test helper.
func (r *MemoryClientRepository) Seed(c *models.Client) *models.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == 0 {
		c.ID = r.nextID
		r.nextID++
	} else if c.ID >= r.nextID {
		r.nextID = c.ID + 1
	}
	now := time.Now()
	c.CreateTime = now
	c.ChangeTime = now
	r.clients[c.ID] = c
	return c
}

func (r *MemoryClientRepository) FindByID(_ context.Context, id uint) (*models.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryClientRepository) FindByUserID(_ context.Context, userID uint) (*models.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.clients {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryClientRepository) UpdateQueueState(_ context.Context, clientID uint, position int, inQueue bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	c.QueuePosition = position
	c.InQueue = inQueue
	c.ChangeTime = time.Now()
	return nil
}

func (r *MemoryClientRepository) UpdateAssignment(_ context.Context, clientID uint, engineerID *uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	c.AssignedEngineerID = engineerID
	if engineerID != nil {
		c.QueuePosition = 0
		c.InQueue = false
	}
	c.ChangeTime = time.Now()
	return nil
}
