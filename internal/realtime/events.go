package realtime

import (
	"encoding/json"
	"log"

	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/queue"
)

// Inbound event types.
const (
	EventJoinQueue         = "join-queue"
	EventSendMessage       = "send-message"
	EventSendTicketMessage = "send-ticket-message"
	EventResolveTicket     = "resolve-ticket"
	EventEngineerAvailable = "engineer-available"
	EventGetQueueStatus    = "get-queue-status"
)

// Outbound event types.
const (
	EventQueuePosition      = "queue-position"
	EventEngineerAssigned   = "engineer-assigned"
	EventClientAssigned     = "client-assigned"
	EventTicketMessage      = "ticket-message-received"
	EventTicketUpdated      = "ticket-updated"
	EventTicketResolved     = "ticket-resolved"
	EventNewTicketAvailable = "new-ticket-available"
	EventQueueUpdate        = "queue-update"
	EventAIResponse         = "ai-response"
	EventError              = "error"
)

// Event is the wire envelope in both directions.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent wraps a payload value into an envelope. Marshal failures are a
// programming error; they are logged and produce an empty payload.
func NewEvent(eventType string, payload any) Event {
	ev := Event{Type: eventType}
	if payload == nil {
		return ev
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("realtime: marshal %s payload: %v", eventType, err)
		return ev
	}
	ev.Payload = raw
	return ev
}

// Inbound payloads.

type TicketMessagePayload struct {
	TicketID uint   `json:"ticket_id"`
	Content  string `json:"content"`
}

type ResolveTicketPayload struct {
	TicketID uint `json:"ticket_id"`
}

type SendMessagePayload struct {
	Content string `json:"content"`
}

// Outbound payloads.

type QueuePositionPayload struct {
	Position int `json:"position"`
}

type EngineerAssignedPayload struct {
	Engineer *models.Engineer `json:"engineer"`
	Message  string           `json:"message"`
}

type ClientAssignedPayload struct {
	Client *models.Client `json:"client"`
}

type TicketMessageReceivedPayload struct {
	TicketID uint            `json:"ticket_id"`
	Message  *models.Message `json:"message"`
}

type TicketPayload struct {
	Ticket *models.Ticket `json:"ticket"`
}

type QueueUpdatePayload = queue.Status

type ErrorPayload struct {
	Message string `json:"message"`
}
