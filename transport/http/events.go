package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/IsSlashy/Protocol-01-sub006/adapters/events"
	"github.com/IsSlashy/Protocol-01-sub006/core"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// a session emits at most one event per status
	eventBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionEvents streams the session's lifecycle events over a websocket. The
// first message describes the current status; the connection closes after a
// terminal event. Requires the poll secret.
func (h *AuthHandlers) SessionEvents(c *gin.Context) {
	id := c.Param("id")

	queue := make(chan core.AuthEvent, eventBuffer)
	unsubscribe := h.client.OnSessionEvent(id, func(e core.AuthEvent) {
		select {
		case queue <- e:
		default:
			h.logger.WithField("session_id", id).Warn("Dropping event for slow websocket")
		}
	})
	defer unsubscribe()

	session, err := h.client.AuthorizePoll(c.Request.Context(), id, pollSecret(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", id).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readPump(conn, closed)

	last := core.EventForStatus(session)
	if err := writeEvent(conn, last); err != nil || session.Status.IsTerminal() {
		closeConn(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-queue:
			if event.Type() == last.Type() {
				continue
			}
			last = event
			if err := writeEvent(conn, event); err != nil {
				return
			}
			if event.Snapshot().Status.IsTerminal() {
				closeConn(conn)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// readPump drains control frames until the peer goes away
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

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
}

func writeEvent(conn *websocket.Conn, event core.AuthEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(events.NewEnvelope(event, time.Now()))
}

func closeConn(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
