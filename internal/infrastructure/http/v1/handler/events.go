package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const eventWriteTimeout = 10 * time.Second

// Events streams task and tile events over a websocket until the client
// goes away.
func (h *Handler) Events(c *gin.Context) {
	l := requestLogger(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := h.bus.Subscribe()
	defer cancel()
	l.Debug("event stream opened", "ip", c.ClientIP())

	// the read side only notices the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				l.Debug("event stream closed", "error", err)
				return
			}
		case <-gone:
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
