package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler handles GET /ws. Upgrades the connection and hands it to the
// event hub, which streams every orchestrator event until the client
// disconnects.
func (s *Server) wsHandler(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "WebSocket not available"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// The orchestrator binds to localhost or a private compose
		// network; cross-origin browsers are not a supported client.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	// HandleConnection blocks until the WebSocket closes.
	s.hub.HandleConnection(c.Request.Context(), conn)
}
