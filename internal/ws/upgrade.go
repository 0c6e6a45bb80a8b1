package ws

import (
	"context"
	"net/http"
	"time"

	"paygate/internal/models"
	"paygate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotFunc loads the current state of a payment by correlation key.
type SnapshotFunc func(ctx context.Context, paymentRef string) (*models.Payment, error)

// ServePaymentStatus upgrades the connection, sends the current payment
// snapshot and then streams status changes until the client goes away.
func ServePaymentStatus(hub *Hub, snapshot SnapshotFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := c.Param("paymentId")
		p, err := snapshot(c.Request.Context(), ref)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment lookup failed"})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.SW("payment_id", ref, "error", err).Warnw("ws_upgrade_failed")
			return
		}
		defer conn.Close()

		client := NewClient(ref)
		hub.Register(client)
		defer client.Close()

		if err := conn.WriteJSON(NewStatusMessage(p)); err != nil {
			return
		}
		go writePump(client, conn)
		readPump(conn)
	}
}

// writePump copies messages from client.Send to the connection.
func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames; it returns when the peer disconnects.
func readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
