// Package queue holds the capacity registry and the FIFO wait-list that
// match waiting clients to engineers with spare capacity. It is the single
// source of truth for engineer load; nothing else mutates load counters.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/queuedesk-io/queuedesk/internal/metrics"
	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/repository"
)

var (
	// ErrNoCapacity is returned when a specific engineer cannot take
	// another ticket.
	ErrNoCapacity = errors.New("engineer at capacity")
	// ErrUnknownEngineer is returned for engineers the registry has not seen.
	ErrUnknownEngineer = errors.New("engineer not registered")
)

// AssignResult is the outcome of TryAssign: either a match or a queue slot.
type AssignResult struct {
	Assigned bool             `json:"assigned"`
	Engineer *models.Engineer `json:"engineer,omitempty"`
	Position int              `json:"position,omitempty"`
}

// WaitingClient is one queue entry in a status snapshot.
type WaitingClient struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Status is the queue snapshot pushed to engineer sessions.
type Status struct {
	Size    int             `json:"size"`
	Clients []WaitingClient `json:"clients"`
}

// Manager serializes every mutation of engineer load and of the wait-list
// behind one lock, so a capacity check and the matching increment are a
// single atomic step. Persistence happens before the in-memory counters
// move; a failed write leaves the registry untouched.
type Manager struct {
	mu        sync.RWMutex
	engineers []*models.Engineer // registry snapshots in insertion order
	byID      map[uint]*models.Engineer
	waiting   []*models.Client

	clientRepo   repository.ClientRepository
	engineerRepo repository.EngineerRepository
}

// NewManager creates an empty queue manager on top of the given store.
func NewManager(clients repository.ClientRepository, engineers repository.EngineerRepository) *Manager {
	return &Manager{
		byID:         make(map[uint]*models.Engineer),
		clientRepo:   clients,
		engineerRepo: engineers,
	}
}

// Init seeds the capacity registry from the store. Called once at startup.
func (m *Manager) Init(ctx context.Context) error {
	available, err := m.engineerRepo.ListAvailable(ctx)
	if err != nil {
		return fmt.Errorf("initialize engineers: %w", err)
	}
	for _, e := range available {
		m.AddOrUpdateEngineer(e)
	}
	log.Printf("queue: initialized %d engineers", len(available))
	return nil
}

// AddOrUpdateEngineer upserts an engineer into the registry. Idempotent by
// engineer ID; insertion order is kept for first-fit scans. For an engineer
// the registry already tracks, the load counter here stays authoritative: the
// caller's snapshot may predate assignments made under this lock, so only
// profile fields (name, capacity, availability) are refreshed. Capacity is
// floored at one.
func (m *Manager) AddOrUpdateEngineer(e *models.Engineer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if cp.Capacity < 1 {
		cp.Capacity = 1
	}
	if existing, ok := m.byID[e.ID]; ok {
		cp.CurrentLoad = existing.CurrentLoad
		*existing = cp
		return
	}
	slot := &cp
	m.byID[e.ID] = slot
	m.engineers = append(m.engineers, slot)
}

// TryAssign matches the client against the first engineer with spare
// capacity, or appends the client to the wait-list and returns its 1-based
// position. First-fit by insertion order; unavailable engineers are skipped
// even when under capacity.
func (m *Manager) TryAssign(ctx context.Context, client *models.Client) (*AssignResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A repeat join from a client already waiting keeps their place instead
	// of adding a second entry.
	for i, c := range m.waiting {
		if c.ID == client.ID {
			return &AssignResult{Assigned: false, Position: i + 1}, nil
		}
	}

	for _, e := range m.engineers {
		if !e.HasCapacity() {
			continue
		}
		engineerID := e.ID
		if err := m.clientRepo.UpdateAssignment(ctx, client.ID, &engineerID); err != nil {
			return nil, fmt.Errorf("persist assignment: %w", err)
		}
		if err := m.engineerRepo.AdjustLoad(ctx, e.ID, +1); err != nil {
			// Roll the client record back so store and registry agree.
			if rbErr := m.clientRepo.UpdateAssignment(ctx, client.ID, nil); rbErr != nil {
				log.Printf("queue: rollback of client %d assignment failed: %v", client.ID, rbErr)
			}
			return nil, fmt.Errorf("persist engineer load: %w", err)
		}
		e.CurrentLoad++
		client.AssignedEngineerID = &engineerID
		client.QueuePosition = 0
		client.InQueue = false
		metrics.AssignmentsTotal.WithLabelValues("immediate").Inc()
		log.Printf("queue: client %d assigned to engineer %d (load %d/%d)", client.ID, e.ID, e.CurrentLoad, e.Capacity)
		snapshot := *e
		return &AssignResult{Assigned: true, Engineer: &snapshot}, nil
	}

	position := len(m.waiting) + 1
	if err := m.clientRepo.UpdateQueueState(ctx, client.ID, position, true); err != nil {
		return nil, fmt.Errorf("persist queue position: %w", err)
	}
	client.QueuePosition = position
	client.InQueue = true
	m.waiting = append(m.waiting, client)
	metrics.QueueDepth.Set(float64(len(m.waiting)))
	log.Printf("queue: client %d queued at position %d", client.ID, position)
	return &AssignResult{Assigned: false, Position: position}, nil
}

// OnEngineerAvailable pops the earliest waiting client and assigns it to the
// engineer. Returns nil when nobody is waiting or the engineer has no spare
// slot. Remaining waiters get their positions recomputed.
func (m *Manager) OnEngineerAvailable(ctx context.Context, engineerID uint) (*models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[engineerID]
	if !ok {
		return nil, ErrUnknownEngineer
	}
	if len(m.waiting) == 0 || !e.HasCapacity() {
		return nil, nil
	}

	client := m.waiting[0]
	if err := m.clientRepo.UpdateAssignment(ctx, client.ID, &engineerID); err != nil {
		return nil, fmt.Errorf("persist assignment: %w", err)
	}
	if err := m.engineerRepo.AdjustLoad(ctx, engineerID, +1); err != nil {
		if rbErr := m.clientRepo.UpdateQueueState(ctx, client.ID, 1, true); rbErr != nil {
			log.Printf("queue: rollback of client %d queue state failed: %v", client.ID, rbErr)
		}
		return nil, fmt.Errorf("persist engineer load: %w", err)
	}

	m.waiting = m.waiting[1:]
	e.CurrentLoad++
	client.AssignedEngineerID = &engineerID
	client.QueuePosition = 0
	client.InQueue = false
	m.recomputePositions(ctx)
	metrics.AssignmentsTotal.WithLabelValues("dequeue").Inc()
	metrics.QueueDepth.Set(float64(len(m.waiting)))
	log.Printf("queue: dequeued client %d for engineer %d (load %d/%d)", client.ID, engineerID, e.CurrentLoad, e.Capacity)
	return client, nil
}

// Reserve atomically checks capacity and increments the engineer's load.
// Used by the ticket assignment path so both assignment paths share one
// authoritative counter.
func (m *Manager) Reserve(ctx context.Context, engineerID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[engineerID]
	if !ok {
		return ErrUnknownEngineer
	}
	if !e.HasCapacity() {
		return ErrNoCapacity
	}
	if err := m.engineerRepo.AdjustLoad(ctx, engineerID, +1); err != nil {
		return fmt.Errorf("persist engineer load: %w", err)
	}
	e.CurrentLoad++
	metrics.AssignmentsTotal.WithLabelValues("ticket").Inc()
	return nil
}

// Release decrements the engineer's load (floored at zero) and clears the
// client's assignment. Calling it twice for the same pair is harmless.
func (m *Manager) Release(ctx context.Context, clientID, engineerID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if clientID != 0 {
		if err := m.clientRepo.UpdateAssignment(ctx, clientID, nil); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("clear client assignment: %w", err)
		}
		if err := m.clientRepo.UpdateQueueState(ctx, clientID, 0, false); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("clear client queue state: %w", err)
		}
	}
	if err := m.engineerRepo.AdjustLoad(ctx, engineerID, -1); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("persist engineer load: %w", err)
	}
	if e, ok := m.byID[engineerID]; ok && e.CurrentLoad > 0 {
		e.CurrentLoad--
	}
	return nil
}

// Remove drops a waiting client, e.g. on disconnect, and recomputes the
// positions of everyone behind them. Returns false when the client was not
// queued.
func (m *Manager) Remove(ctx context.Context, clientID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, c := range m.waiting {
		if c.ID == clientID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}
	if err := m.clientRepo.UpdateQueueState(ctx, clientID, 0, false); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return false, fmt.Errorf("clear client queue state: %w", err)
	}
	m.waiting = append(m.waiting[:idx], m.waiting[idx+1:]...)
	m.recomputePositions(ctx)
	metrics.QueueDepth.Set(float64(len(m.waiting)))
	return true, nil
}

// Position returns the client's 1-based wait-list position, 0 when absent.
func (m *Manager) Position(clientID uint) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, c := range m.waiting {
		if c.ID == clientID {
			return i + 1
		}
	}
	return 0
}

// Status returns a snapshot of the wait-list for broadcast to engineers.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{Size: len(m.waiting), Clients: make([]WaitingClient, 0, len(m.waiting))}
	for i, c := range m.waiting {
		st.Clients = append(st.Clients, WaitingClient{ID: c.ID, Name: c.Name, Position: i + 1})
	}
	return st
}

// Engineer returns a copy of the registry snapshot for the engineer, if any.
func (m *Manager) Engineer(engineerID uint) (*models.Engineer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[engineerID]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// recomputePositions rewrites positions as index+1 and writes them through.
// Caller holds the lock. Write-through failures are logged; the in-memory
// order stays authoritative for matching.
func (m *Manager) recomputePositions(ctx context.Context) {
	for i, c := range m.waiting {
		c.QueuePosition = i + 1
		if err := m.clientRepo.UpdateQueueState(ctx, c.ID, c.QueuePosition, true); err != nil {
			log.Printf("queue: persist position for client %d: %v", c.ID, err)
		}
	}
}
