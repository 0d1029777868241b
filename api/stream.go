package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/netchat/events"
	"github.com/sirupsen/logrus"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// newUpgrader only accepts browser connections from the API's own origin
// unless CORS is enabled. Clients that send no Origin header are accepted.
func newUpgrader(enableCORS bool) *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if enableCORS {
		u.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return u
}

// StreamMessage is one event as sent over the websocket.
type StreamMessage struct {
	Kind events.Kind  `json:"kind"`
	Data events.Event `json:"data"`
}

// handleEvents upgrades to a websocket and forwards every bus event as JSON
// until the client disconnects or the bus closes.
func (s *Server) handleEvents(c *gin.Context) {
	if s.deps.Bus == nil {
		unavailable(c, "events")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleEvents",
			"client":   c.ClientIP(),
			"origin":   c.GetHeader("Origin"),
			"error":    err.Error(),
		}).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.deps.Bus.Subscribe()
	defer sub.Close()

	logrus.WithFields(logrus.Fields{
		"function": "handleEvents",
		"client":   c.ClientIP(),
	}).Info("Event stream opened")

	// The read side only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(StreamMessage{Kind: ev.Kind(), Data: ev}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-gone:
			logrus.WithFields(logrus.Fields{
				"function": "handleEvents",
				"client":   c.ClientIP(),
				"dropped":  sub.Dropped(),
			}).Info("Event stream closed")
			return
		}
	}
}
