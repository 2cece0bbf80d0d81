package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/hub"
	"multiplayer-life/internal/middleware"
	"multiplayer-life/internal/service"
)

// WebSocketHandler upgrades /ws requests and hands the connection to the hub.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	tokens   *service.TokenService
}

// NewWebSocketHandler creates a WebSocketHandler. allowedOrigin "*" accepts any
// browser origin; requests without an Origin header are always accepted.
func NewWebSocketHandler(h *hub.Hub, tokens *service.TokenService, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
	return &WebSocketHandler{upgrader: upgrader, hub: h, tokens: tokens}
}

// HandleConnection handles GET /ws. Player claims, when tokens are enabled, are
// put on the context by middleware.PlayerAuth.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	logCtx := logrus.WithField("client_ip", c.ClientIP())
	claims := middleware.ClaimsFrom(c)
	if claims == nil && h.tokens.Enabled() {
		logCtx.Warn("WS Handler: Player claims missing, auth middleware not installed?")
		c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrInvalidToken.Error()})
		return
	}
	if claims != nil {
		logCtx = logCtx.WithFields(logrus.Fields{"room_id": claims.RoomID, "player_id": claims.PlayerID})
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, claims)
	client.Run()
}
