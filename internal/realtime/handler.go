package realtime

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/queuedesk-io/queuedesk/internal/auth"
	"github.com/queuedesk-io/queuedesk/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		// TODO: Restrict in production
		return true
	},
}

// ServeWS authenticates the upgrade request and hands the connection to the
// hub. The signed session credential travels as a query parameter because
// browsers cannot set headers on WebSocket handshakes.
func ServeWS(hub *Hub, jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = c.GetHeader("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization token"})
			return
		}

		claims, err := jwtManager.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		if claims.Role != models.RoleClient && claims.Role != models.RoleEngineer {
			c.JSON(http.StatusForbidden, gin.H{"error": "Unknown role"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("realtime: websocket upgrade failed: %v", err)
			return
		}

		s := hub.NewSession(conn, claims.UserID, claims.Email, claims.Name, claims.Role)
		hub.Register(s)

		go s.writePump()
		go s.readPump()
	}
}
