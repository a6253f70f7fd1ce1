package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/queuedesk-io/queuedesk/internal/models"
)

// MemoryEngineerRepository implements EngineerRepository with in-memory storage.
type MemoryEngineerRepository struct {
	mu        sync.RWMutex
	engineers map[uint]*models.Engineer
	nextID    uint
}

// NewMemoryEngineerRepository creates a new in-memory engineer repository.
func NewMemoryEngineerRepository() *MemoryEngineerRepository {
	return &MemoryEngineerRepository{
		engineers: make(map[uint]*models.Engineer),
		nextID:    1,
	}
}

// Seed inserts an engineer directly, assigning an ID when missing. Test helper.
func (r *MemoryEngineerRepository) Seed(e *models.Engineer) *models.Engineer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == 0 {
		e.ID = r.nextID
		r.nextID++
	} else if e.ID >= r.nextID {
		r.nextID = e.ID + 1
	}
	now := time.Now()
	e.CreateTime = now
	e.ChangeTime = now
	r.engineers[e.ID] = e
	return e
}

func (r *MemoryEngineerRepository) FindByID(_ context.Context, id uint) (*models.Engineer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engineers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MemoryEngineerRepository) FindByUserID(_ context.Context, userID uint) (*models.Engineer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.engineers {
		if e.UserID == userID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListAvailable returns available engineers ordered by ID, mirroring the
// insertion order the capacity registry seeds from.
func (r *MemoryEngineerRepository) ListAvailable(_ context.Context) ([]*models.Engineer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Engineer, 0, len(r.engineers))
	for _, e := range r.engineers {
		if e.IsAvailable {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryEngineerRepository) AdjustLoad(_ context.Context, engineerID uint, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.engineers[engineerID]
	if !ok {
		return ErrNotFound
	}
	e.CurrentLoad += delta
	if e.CurrentLoad < 0 {
		e.CurrentLoad = 0
	}
	e.ChangeTime = time.Now()
	return nil
}
