package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kanban/internal/realtime"
)

// handleWebsocket upgrades an authenticated request into a realtime
// connection. The connection starts with no subscriptions.
func (s *Server) handleWebsocket(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(s.cfg.AllowedOrigins, r)
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := realtime.NewClient(s.hub, conn, currentUser(c).ID, s.cfg.Realtime)
	client.Run()
}
