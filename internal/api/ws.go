package api

import (
	"atlas_trader/internal/observer" // Live balance push
	"context"                        // Subscription lifetime
	"net/http"                       // HTTP status codes
	"time"                           // Deadlines

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/gorilla/websocket" // Websocket transport
	"github.com/sirupsen/logrus"   // Logging library
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Authenticated by JWT before the upgrade
	},
}

// BalanceStreamHandler upgrades to a websocket and pushes the caller's
// balance snapshot on connect and after every change.
func BalanceStreamHandler(broker *observer.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c) // Get userID from context
		if !ok {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sub, err := broker.Subscribe(ctx, userID)
		if err != nil {
			respondError(c, err, "Balance subscription failed")
			return
		}
		defer sub.Close()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the error response
			return
		}
		defer conn.Close()
		log := logrus.WithField("account_id", userID)
		log.Debug("Balance stream opened")

		// Read pump: only pongs and close frames are expected
		go func() {
			defer cancel()
			conn.SetReadLimit(512)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				conn.SetReadDeadline(time.Now().Add(pongWait))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub.C():
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteJSON(snap); err != nil {
					log.WithField("error", err.Error()).Debug("Balance stream write failed")
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
