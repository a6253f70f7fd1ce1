package models

import "time"

// Ticket statuses. The lifecycle only moves forward:
// open -> in-progress -> resolved -> closed.
const (
	StatusOpen       = "open"
	StatusInProgress = "in-progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// Ticket priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Ticket is a unit of support work. It exclusively owns its message
// sequence; messages are append-only and keep insertion order.
type Ticket struct {
	ID                 uint      `json:"id" db:"id"`
	Subject            string    `json:"subject" db:"subject"`
	Description        string    `json:"description" db:"description"`
	Priority           string    `json:"priority" db:"priority"`
	Status             string    `json:"status" db:"status"`
	Category           string    `json:"category" db:"category"`
	ClientID           uint      `json:"client_id" db:"client_id"`
	AssignedEngineerID *uint     `json:"assigned_engineer_id,omitempty" db:"assigned_engineer_id"`
	CreateTime         time.Time `json:"create_time" db:"create_time"`
	ChangeTime         time.Time `json:"change_time" db:"change_time"`

	// Populated when loaded with messages or joined names.
	Messages     []Message `json:"messages,omitempty"`
	ClientName   string    `json:"client_name,omitempty" db:"client_name"`
	EngineerName string    `json:"engineer_name,omitempty" db:"engineer_name"`
}

// Active reports whether the chat session for the ticket is still live.
// Messaging is rejected once the ticket reaches resolved or closed.
func (t *Ticket) Active() bool {
	return t.Status == StatusOpen || t.Status == StatusInProgress
}

// Message is one chat entry on a ticket. SenderRole is fixed at append time
// from the authenticated session rather than inferred later.
type Message struct {
	ID         string    `json:"id" db:"id"`
	TicketID   uint      `json:"ticket_id" db:"ticket_id"`
	SenderID   uint      `json:"sender_id" db:"sender_id"`
	SenderName string    `json:"sender_name" db:"sender_name"`
	SenderRole string    `json:"sender_role" db:"sender_role"`
	Content    string    `json:"content" db:"content"`
	CreateTime time.Time `json:"create_time" db:"create_time"`
}

// ValidPriority reports whether p is one of the known ticket priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}
