package api

import (
	"net/http"
	"time"

	"billing-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// API-key middleware already gates this endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamEvents upgrades to a websocket and streams purchase outcome events
// until the client disconnects.
func (h *Handlers) StreamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Errorf("streamEvents: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Events.Subscribe(32)
	defer cancel()

	logging.Infof("streamEvents: client connected remote=%s", conn.RemoteAddr())

	// Drain the read side so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			logging.Infof("streamEvents: client disconnected remote=%s", conn.RemoteAddr())
			return

		case outcome, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(outcome); err != nil {
				logging.Warnf("streamEvents: write failed, dropping client: %v", err)
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
