package realtime

import (
	"github.com/queuedesk-io/queuedesk/internal/models"
)

// HubNotifier pushes ticket lifecycle broadcasts through the connection
// registry. It implements ticket.Notifier.
type HubNotifier struct {
	hub *Hub
}

// NewHubNotifier wraps the hub for lifecycle notifications.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// TicketUpdated notifies the engineer pool and the named participants.
func (n *HubNotifier) TicketUpdated(t *models.Ticket, participantUserIDs ...uint) {
	ev := NewEvent(EventTicketUpdated, TicketPayload{Ticket: t})
	n.hub.BroadcastToRole(models.RoleEngineer, ev)
	for _, userID := range participantUserIDs {
		n.hub.SendToUser(userID, ev)
	}
}

// TicketResolved notifies both participants of the ended session.
func (n *HubNotifier) TicketResolved(t *models.Ticket, participantUserIDs ...uint) {
	ev := NewEvent(EventTicketResolved, TicketPayload{Ticket: t})
	for _, userID := range participantUserIDs {
		n.hub.SendToUser(userID, ev)
	}
}

// NewTicketAvailable offers a fresh open ticket to connected engineers.
func (n *HubNotifier) NewTicketAvailable(t *models.Ticket) {
	n.hub.BroadcastToRole(models.RoleEngineer, NewEvent(EventNewTicketAvailable, TicketPayload{Ticket: t}))
}
