package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/queuedesk-io/queuedesk/internal/ai"
	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/queue"
	"github.com/queuedesk-io/queuedesk/internal/ticket"
)

// Dispatcher routes inbound session events to the queue manager, the ticket
// service and the AI responder, and answers on the originating session.
// Business-rule violations become error events; they never tear down the
// connection.
type Dispatcher struct {
	hub     *Hub
	queue   *queue.Manager
	tickets *ticket.Service
	ai      ai.Responder
}

// NewDispatcher wires the event dispatcher and attaches it to the hub.
func NewDispatcher(hub *Hub, qm *queue.Manager, tickets *ticket.Service, responder ai.Responder) *Dispatcher {
	d := &Dispatcher{hub: hub, queue: qm, tickets: tickets, ai: responder}
	hub.SetHandler(d)
	return d
}

// HandleEvent processes one inbound event from a session.
func (d *Dispatcher) HandleEvent(ctx context.Context, s *Session, ev Event) {
	switch ev.Type {
	case EventJoinQueue:
		d.handleJoinQueue(ctx, s)
	case EventSendMessage:
		d.handleSendMessage(ctx, s, ev)
	case EventSendTicketMessage:
		d.handleTicketMessage(ctx, s, ev)
	case EventResolveTicket:
		d.handleResolveTicket(ctx, s, ev)
	case EventEngineerAvailable:
		d.handleEngineerAvailable(ctx, s)
	case EventGetQueueStatus:
		d.handleGetQueueStatus(s)
	default:
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Unknown event type: " + ev.Type}))
	}
}

// HandleDisconnect removes a queued client from the wait-list when their
// session goes away. Already-persisted work is untouched.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, s *Session) {
	if s.Role != models.RoleClient {
		return
	}
	client, err := d.tickets.FindClient(ctx, s.UserID)
	if err != nil {
		return
	}
	removed, err := d.queue.Remove(ctx, client.ID)
	if err != nil {
		log.Printf("realtime: remove disconnected client %d from queue: %v", client.ID, err)
		return
	}
	if removed {
		log.Printf("realtime: client %d left the queue on disconnect", client.ID)
	}
}

func (d *Dispatcher) handleJoinQueue(ctx context.Context, s *Session) {
	if s.Role != models.RoleClient {
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Only clients can join the support queue"}))
		return
	}
	client, err := d.tickets.FindClient(ctx, s.UserID)
	if err != nil {
		d.sendError(s, err)
		return
	}

	result, err := d.queue.TryAssign(ctx, client)
	if err != nil {
		log.Printf("realtime: join queue for client %d: %v", client.ID, err)
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Failed to join queue. Please try again."}))
		return
	}

	if result.Assigned {
		s.Send(NewEvent(EventEngineerAssigned, EngineerAssignedPayload{
			Engineer: result.Engineer,
			Message:  "You have been connected to a support engineer!",
		}))
		d.hub.SendToUser(result.Engineer.UserID, NewEvent(EventClientAssigned, ClientAssignedPayload{Client: client}))
		return
	}
	s.Send(NewEvent(EventQueuePosition, QueuePositionPayload{Position: result.Position}))
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, s *Session, ev Event) {
	if s.Role != models.RoleClient {
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Only clients can message the assistant"}))
		return
	}
	var p SendMessagePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.Content == "" {
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Malformed message payload"}))
		return
	}
	// The responder degrades to a canned reply internally; this never fails
	// the session.
	reply := d.ai.Reply(ctx, p.Content)
	s.Send(NewEvent(EventAIResponse, reply))
}

func (d *Dispatcher) handleTicketMessage(ctx context.Context, s *Session, ev Event) {
	var p TicketMessagePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.TicketID == 0 {
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Malformed ticket message payload"}))
		return
	}

	result, err := d.tickets.AppendMessage(ctx, s.UserID, s.Role, p.TicketID, p.Content)
	if err != nil {
		d.sendError(s, err)
		return
	}

	received := NewEvent(EventTicketMessage, TicketMessageReceivedPayload{
		TicketID: result.Ticket.ID,
		Message:  result.Message,
	})
	// Echo to the sender first, then best-effort to the counterpart.
	s.Send(received)
	if result.CounterpartUserID != 0 {
		d.hub.SendToUser(result.CounterpartUserID, received)
	}
}

func (d *Dispatcher) handleResolveTicket(ctx context.Context, s *Session, ev Event) {
	if s.Role != models.RoleEngineer {
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Only engineers can resolve tickets"}))
		return
	}
	var p ResolveTicketPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.TicketID == 0 {
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Malformed resolve payload"}))
		return
	}
	// The service notifies both participants and the engineer pool.
	if _, err := d.tickets.Resolve(ctx, s.UserID, s.Role, p.TicketID); err != nil {
		d.sendError(s, err)
	}
}

func (d *Dispatcher) handleEngineerAvailable(ctx context.Context, s *Session) {
	if s.Role != models.RoleEngineer {
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Only engineers can set availability"}))
		return
	}
	engineer, err := d.tickets.FindEngineer(ctx, s.UserID)
	if err != nil {
		d.sendError(s, err)
		return
	}
	// Refresh the registry snapshot; the store is authoritative for load.
	d.queue.AddOrUpdateEngineer(engineer)

	client, err := d.queue.OnEngineerAvailable(ctx, engineer.ID)
	if err != nil {
		log.Printf("realtime: engineer %d availability: %v", engineer.ID, err)
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Failed to update availability"}))
		return
	}
	if client == nil {
		return
	}

	s.Send(NewEvent(EventClientAssigned, ClientAssignedPayload{Client: client}))
	if snapshot, ok := d.queue.Engineer(engineer.ID); ok {
		d.hub.SendToUser(client.UserID, NewEvent(EventEngineerAssigned, EngineerAssignedPayload{
			Engineer: snapshot,
			Message:  "You have been connected to a support engineer!",
		}))
	}
}

func (d *Dispatcher) handleGetQueueStatus(s *Session) {
	if s.Role != models.RoleEngineer {
		s.Send(NewEvent(EventError, ErrorPayload{Message: "Only engineers can view queue status"}))
		return
	}
	s.Send(NewEvent(EventQueueUpdate, d.queue.Status()))
}

// sendError maps a business-rule error onto a structured reply for the
// originating session only.
func (d *Dispatcher) sendError(s *Session, err error) {
	msg := "Request failed"
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		msg = "Not found"
	case errors.Is(err, ticket.ErrForbidden):
		msg = "You do not have permission to perform this action"
	case errors.Is(err, ticket.ErrInvalidState):
		msg = "The ticket does not allow that transition"
	case errors.Is(err, ticket.ErrCapacityExceeded):
		msg = "Engineer at capacity"
	case errors.Is(err, ticket.ErrSessionEnded):
		msg = "This chat session has ended"
	case errors.Is(err, ticket.ErrValidation):
		msg = "Invalid input"
	default:
		log.Printf("realtime: internal error for user %d: %v", s.UserID, err)
	}
	s.Send(NewEvent(EventError, ErrorPayload{Message: msg}))
}
