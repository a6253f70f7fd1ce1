package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queuedesk-io/queuedesk/internal/auth"
	"github.com/queuedesk-io/queuedesk/internal/middleware"
	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/realtime"
)

// RouterConfig collects everything the HTTP layer depends on.
type RouterConfig struct {
	JWTManager *auth.JWTManager
	Hub        *realtime.Hub
	Tickets    *TicketHandler
	Dashboard  *DashboardHandler
}

// NewRouter builds the gin engine with all routes attached.
func NewRouter(rc RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The upgrade handler authenticates on its own: browsers cannot set
	// headers on WebSocket requests, so the token rides the query string.
	r.GET("/ws", realtime.ServeWS(rc.Hub, rc.JWTManager))

	authMW := middleware.NewAuthMiddleware(rc.JWTManager)

	apiGroup := r.Group("/api")
	apiGroup.Use(authMW.RequireAuth())
	{
		tickets := apiGroup.Group("/tickets")
		{
			tickets.POST("", authMW.RequireRole(models.RoleClient), rc.Tickets.Create)
			tickets.GET("/my-tickets", authMW.RequireRole(models.RoleClient), rc.Tickets.MyTickets)
			tickets.GET("/assigned-to-me", authMW.RequireRole(models.RoleEngineer), rc.Tickets.AssignedToMe)
			tickets.GET("/available", authMW.RequireRole(models.RoleEngineer), rc.Tickets.Available)
			tickets.GET("/:id", rc.Tickets.Get)
			tickets.POST("/:id/assign", authMW.RequireRole(models.RoleEngineer), rc.Tickets.Assign)
			tickets.PATCH("/:id/status", rc.Tickets.UpdateStatus)
			tickets.POST("/:id/messages", rc.Tickets.PostMessage)
		}

		dashboard := apiGroup.Group("/dashboard")
		{
			dashboard.GET("/stats", rc.Dashboard.Stats)
			dashboard.GET("/queue", rc.Dashboard.QueueStatus)
			dashboard.GET("/recent", rc.Dashboard.Recent)
		}
	}

	return r
}
