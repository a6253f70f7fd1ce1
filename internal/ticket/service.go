// Package ticket implements the ticket lifecycle state machine and the
// guarded operations on a ticket's message history.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/queuedesk-io/queuedesk/internal/metrics"
	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/queue"
	"github.com/queuedesk-io/queuedesk/internal/repository"
)

// MaxMessageLength bounds chat message content, in runes.
const MaxMessageLength = 4000

// transitions is the full lifecycle: each status has at most one successor.
var transitions = map[string]string{
	models.StatusOpen:       models.StatusInProgress,
	models.StatusInProgress: models.StatusResolved,
	models.StatusResolved:   models.StatusClosed,
}

// Notifier receives lifecycle broadcasts so connected sessions reflect state
// without polling. Implemented by the realtime hub; a no-op implementation
// serves tests.
type Notifier interface {
	// TicketUpdated goes to the engineer pool plus the listed participants.
	TicketUpdated(t *models.Ticket, participantUserIDs ...uint)
	// TicketResolved goes to the listed participants.
	TicketResolved(t *models.Ticket, participantUserIDs ...uint)
	// NewTicketAvailable offers a fresh open ticket to idle engineers.
	NewTicketAvailable(t *models.Ticket)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) TicketUpdated(*models.Ticket, ...uint)  {}
func (NopNotifier) TicketResolved(*models.Ticket, ...uint) {}
func (NopNotifier) NewTicketAvailable(*models.Ticket)      {}

// CreateRequest carries the client-supplied fields for a new ticket.
type CreateRequest struct {
	Subject     string `json:"subject" binding:"required"`
	Description string `json:"description" binding:"required"`
	Priority    string `json:"priority"`
	Category    string `json:"category" binding:"required"`
}

// Service guards every ticket mutation. All capacity accounting is routed
// through the queue manager; the service never touches load counters itself.
type Service struct {
	tickets   repository.TicketRepository
	clients   repository.ClientRepository
	engineers repository.EngineerRepository
	queue     *queue.Manager
	notifier  Notifier
}

// NewService wires the ticket service. Pass NopNotifier when no realtime
// layer is attached.
func NewService(
	tickets repository.TicketRepository,
	clients repository.ClientRepository,
	engineers repository.EngineerRepository,
	qm *queue.Manager,
	notifier Notifier,
) *Service {
	return &Service{
		tickets:   tickets,
		clients:   clients,
		engineers: engineers,
		queue:     qm,
		notifier:  notifier,
	}
}

// Create opens a new ticket for the client behind userID and offers it to
// the idle engineer pool.
func (s *Service) Create(ctx context.Context, userID uint, req CreateRequest) (*models.Ticket, error) {
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" || strings.TrimSpace(req.Description) == "" || strings.TrimSpace(req.Category) == "" {
		return nil, fmt.Errorf("%w: subject, description and category are required", ErrValidation)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(req.Priority) {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, req.Priority)
	}

	client, err := s.findClient(ctx, userID)
	if err != nil {
		return nil, err
	}

	t := &models.Ticket{
		Subject:     req.Subject,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      models.StatusOpen,
		Category:    req.Category,
		ClientID:    client.ID,
		ClientName:  client.Name,
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	s.notifier.NewTicketAvailable(t)
	return t, nil
}

// Get loads a ticket with its messages for a participant. Engineers may also
// inspect open unassigned tickets they could pick up.
func (s *Service) Get(ctx context.Context, userID uint, role string, ticketID uint) (*models.Ticket, error) {
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	switch role {
	case models.RoleClient:
		client, err := s.findClient(ctx, userID)
		if err != nil {
			return nil, err
		}
		if t.ClientID != client.ID {
			return nil, ErrForbidden
		}
	case models.RoleEngineer:
		engineer, err := s.findEngineer(ctx, userID)
		if err != nil {
			return nil, err
		}
		assigned := t.AssignedEngineerID != nil && *t.AssignedEngineerID == engineer.ID
		unclaimed := t.AssignedEngineerID == nil && t.Status == models.StatusOpen
		if !assigned && !unclaimed {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	return t, nil
}

// Assign moves an open, unassigned ticket to in-progress under the engineer
// behind userID. The capacity check and increment happen atomically in the
// queue manager; the ticket write comes after, with the slot released again
// if that write fails.
func (s *Service) Assign(ctx context.Context, userID uint, ticketID uint) (*models.Ticket, error) {
	engineer, err := s.findEngineer(ctx, userID)
	if err != nil {
		return nil, err
	}
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusOpen || t.AssignedEngineerID != nil {
		return nil, fmt.Errorf("%w: ticket %d is %s", ErrInvalidState, t.ID, t.Status)
	}

	// Late registration: an engineer can pick up tickets before the
	// registry has seen them (e.g. flagged available after startup).
	if _, known := s.queue.Engineer(engineer.ID); !known {
		s.queue.AddOrUpdateEngineer(engineer)
	}
	if err := s.queue.Reserve(ctx, engineer.ID); err != nil {
		if errors.Is(err, queue.ErrNoCapacity) {
			return nil, ErrCapacityExceeded
		}
		return nil, fmt.Errorf("reserve engineer slot: %w", err)
	}

	engineerID := engineer.ID
	t.AssignedEngineerID = &engineerID
	t.Status = models.StatusInProgress
	t.EngineerName = engineer.Name
	// Conditional write: if another engineer claimed the ticket between our
	// read and this point, the predicate fails and the slot goes back.
	if err := s.tickets.UpdateStatusFrom(ctx, t, models.StatusOpen); err != nil {
		if relErr := s.queue.Release(ctx, 0, engineer.ID); relErr != nil {
			log.Printf("ticket: release after failed assign of %d: %v", t.ID, relErr)
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: ticket %d was claimed concurrently", ErrInvalidState, t.ID)
		}
		return nil, fmt.Errorf("persist assignment: %w", err)
	}

	s.notifier.TicketUpdated(t, s.participantUserIDs(ctx, t)...)
	return t, nil
}

// UpdateStatus drives the state machine. Only the single defined successor
// of the current status is accepted; each transition has its own guard on
// who may trigger it.
func (s *Service) UpdateStatus(ctx context.Context, userID uint, role string, ticketID uint, status string) (*models.Ticket, error) {
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if transitions[t.Status] != status {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, t.Status, status)
	}

	switch status {
	case models.StatusInProgress:
		// Assignment is the only way in; it enforces the capacity check.
		if role != models.RoleEngineer {
			return nil, ErrForbidden
		}
		return s.Assign(ctx, userID, ticketID)

	case models.StatusResolved:
		// The assigned engineer resolves; the owning client may abandon.
		if err := s.authorizeParticipant(ctx, userID, role, t); err != nil {
			return nil, err
		}
		t.Status = models.StatusResolved
		// Only the transition that commits the write releases the slot; a
		// racing resolve loses the predicate and frees nothing.
		if err := s.tickets.UpdateStatusFrom(ctx, t, models.StatusInProgress); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("%w: ticket %d changed concurrently", ErrInvalidState, t.ID)
			}
			return nil, fmt.Errorf("persist resolution: %w", err)
		}
		if t.AssignedEngineerID != nil {
			if err := s.queue.Release(ctx, t.ClientID, *t.AssignedEngineerID); err != nil {
				log.Printf("ticket: release pair for ticket %d: %v", t.ID, err)
			}
		}
		participants := s.participantUserIDs(ctx, t)
		s.notifier.TicketResolved(t, participants...)
		s.notifier.TicketUpdated(t, participants...)
		return t, nil

	case models.StatusClosed:
		if role != models.RoleEngineer {
			return nil, ErrForbidden
		}
		engineer, err := s.findEngineer(ctx, userID)
		if err != nil {
			return nil, err
		}
		if t.AssignedEngineerID == nil || *t.AssignedEngineerID != engineer.ID {
			return nil, ErrForbidden
		}
		t.Status = models.StatusClosed
		if err := s.tickets.UpdateStatusFrom(ctx, t, models.StatusResolved); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("%w: ticket %d changed concurrently", ErrInvalidState, t.ID)
			}
			return nil, fmt.Errorf("persist closure: %w", err)
		}
		s.notifier.TicketUpdated(t, s.participantUserIDs(ctx, t)...)
		return t, nil
	}
	return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidState, status)
}

// Resolve is the engineer-facing shortcut for in-progress -> resolved.
func (s *Service) Resolve(ctx context.Context, userID uint, role string, ticketID uint) (*models.Ticket, error) {
	return s.UpdateStatus(ctx, userID, role, ticketID, models.StatusResolved)
}

// RouteResult is the outcome of an accepted chat message.
type RouteResult struct {
	Ticket  *models.Ticket
	Message *models.Message
	// CounterpartUserID identifies the other participant's session, 0 when
	// the ticket has no counterpart yet (unassigned).
	CounterpartUserID uint
}

// AppendMessage validates, authorizes and persists one chat message. The
// sender must be the owning client or the assigned engineer, and the session
// must still be live. The sender role is fixed here, from the authenticated
// session, and stored on the message.
func (s *Service) AppendMessage(ctx context.Context, userID uint, role string, ticketID uint, content string) (*RouteResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, MaxMessageLength)
	}

	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !t.Active() {
		return nil, ErrSessionEnded
	}

	msg := &models.Message{
		ID:         uuid.NewString(),
		TicketID:   t.ID,
		SenderRole: role,
		Content:    content,
		CreateTime: time.Now(),
	}
	var counterpart uint

	switch role {
	case models.RoleClient:
		client, err := s.findClient(ctx, userID)
		if err != nil {
			return nil, err
		}
		if t.ClientID != client.ID {
			return nil, ErrForbidden
		}
		msg.SenderID = client.ID
		msg.SenderName = client.Name
		if t.AssignedEngineerID != nil {
			if engineer, err := s.engineers.FindByID(ctx, *t.AssignedEngineerID); err == nil {
				counterpart = engineer.UserID
			}
		}
	case models.RoleEngineer:
		engineer, err := s.findEngineer(ctx, userID)
		if err != nil {
			return nil, err
		}
		if t.AssignedEngineerID == nil || *t.AssignedEngineerID != engineer.ID {
			return nil, ErrForbidden
		}
		msg.SenderID = engineer.ID
		msg.SenderName = engineer.Name
		if client, err := s.clients.FindByID(ctx, t.ClientID); err == nil {
			counterpart = client.UserID
		}
	default:
		return nil, ErrForbidden
	}

	if err := s.tickets.AppendMessage(ctx, t.ID, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	t.Messages = append(t.Messages, *msg)
	metrics.MessagesRouted.Inc()
	return &RouteResult{Ticket: t, Message: msg, CounterpartUserID: counterpart}, nil
}

// MyTickets lists the client's own tickets, newest first.
func (s *Service) MyTickets(ctx context.Context, userID uint) ([]*models.Ticket, error) {
	client, err := s.findClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.tickets.ListByClient(ctx, client.ID)
}

// AssignedToMe lists the tickets held by the engineer behind userID.
func (s *Service) AssignedToMe(ctx context.Context, userID uint) ([]*models.Ticket, error) {
	engineer, err := s.findEngineer(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.tickets.ListByEngineer(ctx, engineer.ID)
}

// Available lists open unassigned tickets an engineer could pick up.
func (s *Service) Available(ctx context.Context) ([]*models.Ticket, error) {
	return s.tickets.ListOpenUnassigned(ctx)
}

// Recent lists the caller's most recent tickets for the dashboard.
func (s *Service) Recent(ctx context.Context, userID uint, role string, limit int) ([]*models.Ticket, error) {
	if limit <= 0 {
		limit = 5
	}
	switch role {
	case models.RoleClient:
		client, err := s.findClient(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.tickets.ListRecent(ctx, limit, &client.ID, nil)
	case models.RoleEngineer:
		engineer, err := s.findEngineer(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.tickets.ListRecent(ctx, limit, nil, &engineer.ID)
	}
	return s.tickets.ListRecent(ctx, limit, nil, nil)
}

// Stats aggregates ticket counts by status for the dashboard.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	return s.tickets.CountByStatus(ctx)
}

// CloseExpired archives tickets left in resolved past the retention cutoff.
// Returns the number of tickets closed. Used by the background runner.
func (s *Service) CloseExpired(ctx context.Context, cutoff time.Time) (int, error) {
	expired, err := s.tickets.ListResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired tickets: %w", err)
	}
	closed := 0
	for _, t := range expired {
		t.Status = models.StatusClosed
		if err := s.tickets.UpdateStatusFrom(ctx, t, models.StatusResolved); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				log.Printf("ticket: auto-close %d: %v", t.ID, err)
			}
			continue
		}
		closed++
		s.notifier.TicketUpdated(t, s.participantUserIDs(ctx, t)...)
	}
	return closed, nil
}

// FindClient resolves the client profile for an authenticated user.
func (s *Service) FindClient(ctx context.Context, userID uint) (*models.Client, error) {
	return s.findClient(ctx, userID)
}

// FindEngineer resolves the engineer profile for an authenticated user.
func (s *Service) FindEngineer(ctx context.Context, userID uint) (*models.Engineer, error) {
	return s.findEngineer(ctx, userID)
}

// authorizeParticipant checks that the caller is the assigned engineer or
// the owning client of the ticket.
func (s *Service) authorizeParticipant(ctx context.Context, userID uint, role string, t *models.Ticket) error {
	switch role {
	case models.RoleClient:
		client, err := s.findClient(ctx, userID)
		if err != nil {
			return err
		}
		if t.ClientID != client.ID {
			return ErrForbidden
		}
		return nil
	case models.RoleEngineer:
		engineer, err := s.findEngineer(ctx, userID)
		if err != nil {
			return err
		}
		if t.AssignedEngineerID == nil || *t.AssignedEngineerID != engineer.ID {
			return ErrForbidden
		}
		return nil
	}
	return ErrForbidden
}

// participantUserIDs resolves the user identities behind both sides of a
// ticket for notification targeting. Lookup failures drop the target.
func (s *Service) participantUserIDs(ctx context.Context, t *models.Ticket) []uint {
	var ids []uint
	if client, err := s.clients.FindByID(ctx, t.ClientID); err == nil {
		ids = append(ids, client.UserID)
	}
	if t.AssignedEngineerID != nil {
		if engineer, err := s.engineers.FindByID(ctx, *t.AssignedEngineerID); err == nil {
			ids = append(ids, engineer.UserID)
		}
	}
	return ids
}

func (s *Service) load(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: ticket %d", ErrNotFound, ticketID)
		}
		return nil, fmt.Errorf("load ticket %d: %w", ticketID, err)
	}
	return t, nil
}

func (s *Service) findClient(ctx context.Context, userID uint) (*models.Client, error) {
	client, err := s.clients.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: client profile for user %d", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("find client for user %d: %w", userID, err)
	}
	return client, nil
}

func (s *Service) findEngineer(ctx context.Context, userID uint) (*models.Engineer, error) {
	engineer, err := s.engineers.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: engineer profile for user %d", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("find engineer for user %d: %w", userID, err)
	}
	return engineer, nil
}
