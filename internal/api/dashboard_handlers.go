package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/queuedesk-io/queuedesk/internal/cache"
	"github.com/queuedesk-io/queuedesk/internal/middleware"
	"github.com/queuedesk-io/queuedesk/internal/queue"
	"github.com/queuedesk-io/queuedesk/internal/realtime"
	"github.com/queuedesk-io/queuedesk/internal/ticket"
)

// DashboardHandler serves aggregate views: ticket counts, queue state and
// recent activity.
type DashboardHandler struct {
	svc      *ticket.Service
	queue    *queue.Manager
	hub      *realtime.Hub
	snapshot *cache.SnapshotStore
}

func NewDashboardHandler(svc *ticket.Service, qm *queue.Manager, hub *realtime.Hub, snapshot *cache.SnapshotStore) *DashboardHandler {
	return &DashboardHandler{svc: svc, queue: qm, hub: hub, snapshot: snapshot}
}

// Stats handles GET /api/dashboard/stats.
func (h *DashboardHandler) Stats(c *gin.Context) {
	counts, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets":            counts,
		"queue_size":         h.queue.Status().Size,
		"engineers_online":   h.hub.EngineerCount(),
		"sessions_connected": h.hub.SessionCount(),
	})
}

// QueueStatus handles GET /api/dashboard/queue. The cached snapshot is
// preferred when present; a cache miss falls back to the live registry.
func (h *DashboardHandler) QueueStatus(c *gin.Context) {
	if st, ok, err := h.snapshot.Get(c.Request.Context()); err == nil && ok {
		c.JSON(http.StatusOK, gin.H{"queue": st, "cached": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": h.queue.Status(), "cached": false})
}

// Recent handles GET /api/dashboard/recent.
func (h *DashboardHandler) Recent(c *gin.Context) {
	tickets, err := h.svc.Recent(c.Request.Context(),
		c.GetUint(middleware.CtxUserID), c.GetString(middleware.CtxRole), 5)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(tickets))
}
