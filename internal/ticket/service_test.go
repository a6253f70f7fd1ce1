package ticket

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/queue"
	"github.com/queuedesk-io/queuedesk/internal/repository"
)

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	updated   []uint
	resolved  []uint
	available []uint
}

func (n *recordingNotifier) TicketUpdated(t *models.Ticket, _ ...uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, t.ID)
}

func (n *recordingNotifier) TicketResolved(t *models.Ticket, _ ...uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, t.ID)
}

func (n *recordingNotifier) NewTicketAvailable(t *models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.available = append(n.available, t.ID)
}

type env struct {
	svc       *Service
	tickets   *repository.MemoryTicketRepository
	clients   *repository.MemoryClientRepository
	engineers *repository.MemoryEngineerRepository
	queue     *queue.Manager
	notifier  *recordingNotifier

	client   *models.Client
	engineer *models.Engineer
}

const (
	clientUserID   = uint(10)
	engineerUserID = uint(20)
)

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		tickets:   repository.NewMemoryTicketRepository(),
		clients:   repository.NewMemoryClientRepository(),
		engineers: repository.NewMemoryEngineerRepository(),
		notifier:  &recordingNotifier{},
	}
	e.client = e.clients.Seed(&models.Client{UserID: clientUserID, Name: "Alice"})
	e.engineer = e.engineers.Seed(&models.Engineer{
		UserID:      engineerUserID,
		Name:        "Eve",
		Capacity:    2,
		IsAvailable: true,
	})
	e.queue = queue.NewManager(e.clients, e.engineers)
	require.NoError(t, e.queue.Init(context.Background()))
	e.svc = NewService(e.tickets, e.clients, e.engineers, e.queue, e.notifier)
	return e
}

func (e *env) createTicket(t *testing.T) *models.Ticket {
	t.Helper()
	ticket, err := e.svc.Create(context.Background(), clientUserID, CreateRequest{
		Subject:     "VPN drops",
		Description: "Connection resets every few minutes",
		Category:    "network",
	})
	require.NoError(t, err)
	return ticket
}

func (e *env) assignTicket(t *testing.T) *models.Ticket {
	t.Helper()
	ticket := e.createTicket(t)
	assigned, err := e.svc.Assign(context.Background(), engineerUserID, ticket.ID)
	require.NoError(t, err)
	return assigned
}

func TestCreateTicket(t *testing.T) {
	e := newEnv(t)
	ticket := e.createTicket(t)

	assert.Equal(t, models.StatusOpen, ticket.Status)
	assert.Equal(t, models.PriorityMedium, ticket.Priority)
	assert.Equal(t, e.client.ID, ticket.ClientID)
	assert.Nil(t, ticket.AssignedEngineerID)
	assert.Equal(t, []uint{ticket.ID}, e.notifier.available)
}

func TestCreateTicketValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, clientUserID, CreateRequest{Subject: " ", Description: "d", Category: "c"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.svc.Create(ctx, clientUserID, CreateRequest{
		Subject: "s", Description: "d", Category: "c", Priority: "critical",
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.svc.Create(ctx, uint(999), CreateRequest{Subject: "s", Description: "d", Category: "c"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAuthorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.createTicket(t)

	got, err := e.svc.Get(ctx, clientUserID, models.RoleClient, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)

	// Engineers may inspect open unassigned tickets.
	_, err = e.svc.Get(ctx, engineerUserID, models.RoleEngineer, ticket.ID)
	assert.NoError(t, err)

	// Another client sees nothing.
	e.clients.Seed(&models.Client{UserID: 11, Name: "Mallory"})
	_, err = e.svc.Get(ctx, uint(11), models.RoleClient, ticket.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.svc.Get(ctx, clientUserID, models.RoleClient, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAssignedTicketLockedToAssignee(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.assignTicket(t)

	e.engineers.Seed(&models.Engineer{
		UserID: 21, Name: "Oscar", Capacity: 2, IsAvailable: true,
	})
	_, err := e.svc.Get(ctx, uint(21), models.RoleEngineer, ticket.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.svc.Get(ctx, engineerUserID, models.RoleEngineer, ticket.ID)
	assert.NoError(t, err)
}

func TestAssign(t *testing.T) {
	e := newEnv(t)
	ticket := e.assignTicket(t)

	assert.Equal(t, models.StatusInProgress, ticket.Status)
	require.NotNil(t, ticket.AssignedEngineerID)
	assert.Equal(t, e.engineer.ID, *ticket.AssignedEngineerID)

	reg, ok := e.queue.Engineer(e.engineer.ID)
	require.True(t, ok)
	assert.Equal(t, 1, reg.CurrentLoad)
}

func TestAssignGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ticket := e.assignTicket(t)
	// Already assigned: the transition is not available again.
	_, err := e.svc.Assign(ctx, engineerUserID, ticket.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = e.svc.Assign(ctx, engineerUserID, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.svc.Assign(ctx, uint(999), ticket.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignAtCapacity(t *testing.T) {
	e := newEnv(t)
	e.assignTicket(t)
	e.assignTicket(t)

	third := e.createTicket(t)
	_, err := e.svc.Assign(context.Background(), engineerUserID, third.ID)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	reg, _ := e.queue.Engineer(e.engineer.ID)
	assert.Equal(t, 2, reg.CurrentLoad)
}

func TestAssignLateRegistersEngineer(t *testing.T) {
	e := newEnv(t)
	// An engineer the queue has never seen (flagged available post-startup).
	late := e.engineers.Seed(&models.Engineer{
		UserID: 30, Name: "Late", Capacity: 1, IsAvailable: true,
	})
	ticket := e.createTicket(t)

	assigned, err := e.svc.Assign(context.Background(), uint(30), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, late.ID, *assigned.AssignedEngineerID)

	reg, ok := e.queue.Engineer(late.ID)
	require.True(t, ok)
	assert.Equal(t, 1, reg.CurrentLoad)
}

func TestUpdateStatusOnlySuccessor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.createTicket(t)

	// open -> resolved skips in-progress.
	_, err := e.svc.UpdateStatus(ctx, clientUserID, models.RoleClient, ticket.ID, models.StatusResolved)
	assert.ErrorIs(t, err, ErrInvalidState)

	// open -> closed skips two states.
	_, err = e.svc.UpdateStatus(ctx, engineerUserID, models.RoleEngineer, ticket.ID, models.StatusClosed)
	assert.ErrorIs(t, err, ErrInvalidState)

	// Same-state transition is not defined either.
	_, err = e.svc.UpdateStatus(ctx, clientUserID, models.RoleClient, ticket.ID, models.StatusOpen)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUpdateStatusInProgressRequiresEngineer(t *testing.T) {
	e := newEnv(t)
	ticket := e.createTicket(t)

	_, err := e.svc.UpdateStatus(context.Background(), clientUserID, models.RoleClient, ticket.ID, models.StatusInProgress)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestResolveByEngineerReleasesCapacity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.assignTicket(t)

	resolved, err := e.svc.Resolve(ctx, engineerUserID, models.RoleEngineer, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)

	reg, _ := e.queue.Engineer(e.engineer.ID)
	assert.Equal(t, 0, reg.CurrentLoad)

	stored, err := e.clients.FindByID(ctx, e.client.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AssignedEngineerID)

	assert.Contains(t, e.notifier.resolved, ticket.ID)
	assert.Contains(t, e.notifier.updated, ticket.ID)
}

func TestResolveByOwningClient(t *testing.T) {
	e := newEnv(t)
	ticket := e.assignTicket(t)

	resolved, err := e.svc.UpdateStatus(context.Background(), clientUserID, models.RoleClient, ticket.ID, models.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
}

func TestResolveByStranger(t *testing.T) {
	e := newEnv(t)
	ticket := e.assignTicket(t)

	e.engineers.Seed(&models.Engineer{UserID: 21, Name: "Oscar", Capacity: 2, IsAvailable: true})
	_, err := e.svc.UpdateStatus(context.Background(), uint(21), models.RoleEngineer, ticket.ID, models.StatusResolved)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCloseRequiresAssignedEngineer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.assignTicket(t)
	_, err := e.svc.Resolve(ctx, engineerUserID, models.RoleEngineer, ticket.ID)
	require.NoError(t, err)

	// The owning client cannot archive.
	_, err = e.svc.UpdateStatus(ctx, clientUserID, models.RoleClient, ticket.ID, models.StatusClosed)
	assert.ErrorIs(t, err, ErrForbidden)

	closed, err := e.svc.UpdateStatus(ctx, engineerUserID, models.RoleEngineer, ticket.ID, models.StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)

	// Closed is terminal.
	_, err = e.svc.UpdateStatus(ctx, engineerUserID, models.RoleEngineer, ticket.ID, models.StatusResolved)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAppendMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.assignTicket(t)

	res, err := e.svc.AppendMessage(ctx, clientUserID, models.RoleClient, ticket.ID, "  still broken  ")
	require.NoError(t, err)
	assert.Equal(t, "still broken", res.Message.Content)
	assert.Equal(t, models.RoleClient, res.Message.SenderRole)
	assert.Equal(t, e.client.Name, res.Message.SenderName)
	assert.NotEmpty(t, res.Message.ID)
	assert.Equal(t, engineerUserID, res.CounterpartUserID)

	res, err = e.svc.AppendMessage(ctx, engineerUserID, models.RoleEngineer, ticket.ID, "try rebooting")
	require.NoError(t, err)
	assert.Equal(t, clientUserID, res.CounterpartUserID)

	stored, err := e.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "still broken", stored.Messages[0].Content)
	assert.Equal(t, "try rebooting", stored.Messages[1].Content)
}

func TestAppendMessageUnassignedHasNoCounterpart(t *testing.T) {
	e := newEnv(t)
	ticket := e.createTicket(t)

	res, err := e.svc.AppendMessage(context.Background(), clientUserID, models.RoleClient, ticket.ID, "anyone there?")
	require.NoError(t, err)
	assert.Zero(t, res.CounterpartUserID)
}

func TestAppendMessageValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.assignTicket(t)

	_, err := e.svc.AppendMessage(ctx, clientUserID, models.RoleClient, ticket.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.svc.AppendMessage(ctx, clientUserID, models.RoleClient, ticket.ID, strings.Repeat("x", MaxMessageLength+1))
	assert.ErrorIs(t, err, ErrValidation)

	// Exactly at the limit passes.
	_, err = e.svc.AppendMessage(ctx, clientUserID, models.RoleClient, ticket.ID, strings.Repeat("x", MaxMessageLength))
	assert.NoError(t, err)
}

func TestAppendMessageAuthorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.assignTicket(t)

	e.clients.Seed(&models.Client{UserID: 11, Name: "Mallory"})
	_, err := e.svc.AppendMessage(ctx, uint(11), models.RoleClient, ticket.ID, "hi")
	assert.ErrorIs(t, err, ErrForbidden)

	e.engineers.Seed(&models.Engineer{UserID: 21, Name: "Oscar", Capacity: 2, IsAvailable: true})
	_, err = e.svc.AppendMessage(ctx, uint(21), models.RoleEngineer, ticket.ID, "hi")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAppendMessageAfterResolve(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ticket := e.assignTicket(t)
	_, err := e.svc.Resolve(ctx, engineerUserID, models.RoleEngineer, ticket.ID)
	require.NoError(t, err)

	_, err = e.svc.AppendMessage(ctx, clientUserID, models.RoleClient, ticket.ID, "wait")
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestListOperations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.createTicket(t)
	second := e.assignTicket(t)

	mine, err := e.svc.MyTickets(ctx, clientUserID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	assigned, err := e.svc.AssignedToMe(ctx, engineerUserID)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, second.ID, assigned[0].ID)

	available, err := e.svc.Available(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, first.ID, available[0].ID)

	stats, err := e.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.StatusOpen])
	assert.Equal(t, 1, stats[models.StatusInProgress])
}

func TestCloseExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stale := e.assignTicket(t)
	_, err := e.svc.Resolve(ctx, engineerUserID, models.RoleEngineer, stale.ID)
	require.NoError(t, err)
	fresh := e.createTicket(t)

	closed, err := e.svc.CloseExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	stored, err := e.tickets.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, stored.Status)

	untouched, err := e.tickets.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, untouched.Status)

	// Nothing left past the cutoff on a second run.
	closed, err = e.svc.CloseExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, closed)
}

// gatedTickets holds every GetByID until release closes, so two callers can
// read the same ticket state before either one writes.
type gatedTickets struct {
	repository.TicketRepository
	arrived chan struct{}
	release chan struct{}
}

func (g *gatedTickets) GetByID(ctx context.Context, id uint) (*models.Ticket, error) {
	g.arrived <- struct{}{}
	<-g.release
	return g.TicketRepository.GetByID(ctx, id)
}

func TestConcurrentResolveReleasesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	target := e.assignTicket(t)
	e.assignTicket(t) // second in-progress ticket keeps the engineer loaded

	gate := &gatedTickets{
		TicketRepository: e.tickets,
		arrived:          make(chan struct{}, 2),
		release:          make(chan struct{}),
	}
	svc := NewService(gate, e.clients, e.engineers, e.queue, e.notifier)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Resolve(ctx, engineerUserID, models.RoleEngineer, target.ID)
		}(i)
	}
	<-gate.arrived
	<-gate.arrived
	close(gate.release)
	wg.Wait()

	// Both read the ticket as in-progress; only one write may commit and
	// only that one frees a slot.
	if errs[0] == nil {
		assert.ErrorIs(t, errs[1], ErrInvalidState)
	} else {
		assert.ErrorIs(t, errs[0], ErrInvalidState)
		assert.NoError(t, errs[1])
	}

	stored, err := e.tickets.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, stored.Status)

	eng, ok := e.queue.Engineer(e.engineer.ID)
	require.True(t, ok)
	assert.Equal(t, 1, eng.CurrentLoad)
}

func TestConcurrentAssignSingleWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const rivalUserID = uint(21)
	rival := e.engineers.Seed(&models.Engineer{
		UserID:      rivalUserID,
		Name:        "Mallory",
		Capacity:    2,
		IsAvailable: true,
	})
	ticket := e.createTicket(t)

	gate := &gatedTickets{
		TicketRepository: e.tickets,
		arrived:          make(chan struct{}, 2),
		release:          make(chan struct{}),
	}
	svc := NewService(gate, e.clients, e.engineers, e.queue, e.notifier)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, userID := range []uint{engineerUserID, rivalUserID} {
		wg.Add(1)
		go func(i int, userID uint) {
			defer wg.Done()
			_, errs[i] = svc.Assign(ctx, userID, ticket.ID)
		}(i, userID)
	}
	<-gate.arrived
	<-gate.arrived
	close(gate.release)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrInvalidState)
		}
	}
	assert.Equal(t, 1, winners)

	stored, err := e.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	require.NotNil(t, stored.AssignedEngineerID)

	// The loser's reserved slot went back: exactly one load unit is held
	// across both engineers.
	total := 0
	for _, id := range []uint{e.engineer.ID, rival.ID} {
		if eng, ok := e.queue.Engineer(id); ok {
			total += eng.CurrentLoad
		}
	}
	assert.Equal(t, 1, total)
}
