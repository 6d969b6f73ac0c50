package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/council/internal/event"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	// eventBuffer is how many events a slow client may fall behind by
	// before new ones are dropped.
	eventBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wireEvent is the JSON frame sent to websocket clients.
type wireEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      event.Event `json:"data"`
}

// streamEvents upgrades to a websocket and forwards session events until
// the client goes away. ?types=debate.*,message.appended narrows the
// stream; the default is everything.
func (s *Server) streamEvents(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.WithSession(sess.ID())
	events := make(chan event.Event, eventBuffer)
	forward := func(e event.Event) {
		select {
		case events <- e:
		default:
			logger.Warn("dropping event for slow client", "event", e.EventType())
		}
	}
	for _, pattern := range eventPatterns(c.Query("types")) {
		subID := sess.Bus().Subscribe(pattern, forward)
		defer sess.Bus().Unsubscribe(subID)
	}
	logger.Info("event stream opened")

	// The read loop only watches for close frames and pongs.
	closed := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(wireEvent{Type: e.EventType(), Timestamp: e.Timestamp(), Data: e}); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			logger.Info("event stream closed")
			return
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func eventPatterns(query string) []string {
	var patterns []string
	for _, p := range strings.Split(query, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return []string{event.Wildcard}
	}
	return patterns
}
