// Package api hosts the HTTP surface: ticket CRUD, dashboard aggregates and
// the WebSocket upgrade endpoint.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/queuedesk-io/queuedesk/internal/middleware"
	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/ticket"
)

// TicketHandler serves the ticket REST endpoints. All mutations delegate to
// the ticket service; the handler only translates HTTP.
type TicketHandler struct {
	svc *ticket.Service
}

func NewTicketHandler(svc *ticket.Service) *TicketHandler {
	return &TicketHandler{svc: svc}
}

// Create handles POST /api/tickets.
func (h *TicketHandler) Create(c *gin.Context) {
	var req ticket.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t, err := h.svc.Create(c.Request.Context(), c.GetUint(middleware.CtxUserID), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// Get handles GET /api/tickets/:id.
func (h *TicketHandler) Get(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	t, err := h.svc.Get(c.Request.Context(),
		c.GetUint(middleware.CtxUserID), c.GetString(middleware.CtxRole), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// MyTickets handles GET /api/tickets/my-tickets for clients.
func (h *TicketHandler) MyTickets(c *gin.Context) {
	tickets, err := h.svc.MyTickets(c.Request.Context(), c.GetUint(middleware.CtxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(tickets))
}

// AssignedToMe handles GET /api/tickets/assigned-to-me for engineers.
func (h *TicketHandler) AssignedToMe(c *gin.Context) {
	tickets, err := h.svc.AssignedToMe(c.Request.Context(), c.GetUint(middleware.CtxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(tickets))
}

// Available handles GET /api/tickets/available: open unassigned tickets an
// engineer could pick up.
func (h *TicketHandler) Available(c *gin.Context) {
	tickets, err := h.svc.Available(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(tickets))
}

// Assign handles POST /api/tickets/:id/assign for engineers.
func (h *TicketHandler) Assign(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	t, err := h.svc.Assign(c.Request.Context(), c.GetUint(middleware.CtxUserID), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus handles PATCH /api/tickets/:id/status.
func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t, err := h.svc.UpdateStatus(c.Request.Context(),
		c.GetUint(middleware.CtxUserID), c.GetString(middleware.CtxRole), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// PostMessage handles POST /api/tickets/:id/messages. Messages posted over
// HTTP flow through the same validation and routing as WebSocket traffic.
func (h *TicketHandler) PostMessage(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	res, err := h.svc.AppendMessage(c.Request.Context(),
		c.GetUint(middleware.CtxUserID), c.GetString(middleware.CtxRole), id, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res.Message)
}

func ticketID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket ID"})
		return 0, false
	}
	return uint(id), true
}

func listResponse(tickets []*models.Ticket) gin.H {
	if tickets == nil {
		tickets = []*models.Ticket{}
	}
	return gin.H{"tickets": tickets, "count": len(tickets)}
}

// respondError maps service errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ticket.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	case errors.Is(err, ticket.ErrSessionEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "This chat session has ended"})
	case errors.Is(err, ticket.ErrValidation),
		errors.Is(err, ticket.ErrInvalidState),
		errors.Is(err, ticket.ErrCapacityExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
