package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	gojson "github.com/goccy/go-json"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The admin API is same-origin by default (served behind the gin
	// router that also hosts /api); operators fronting it with a separate
	// origin should terminate TLS/origin checks at their reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /api/tail — upgrades to a websocket and streams messages dispatched
// from here on (a subscriber that falls behind misses messages), prefixed
// with recent history from the tail hub's ring buffer. Grounded on mbp's gorilla/websocket dependency
// (present in the teacher's go.mod with no consuming file in the
// retrieval pack); built fresh against app.TailHub.
func (s *Server) tail(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, history := s.App.Tail.Subscribe()
	defer s.App.Tail.Unsubscribe(ch)

	for _, msg := range history {
		if !writeTailFrame(conn, msg) {
			return
		}
	}

	pingTk := time.NewTicker(30 * time.Second)
	defer pingTk.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !writeTailFrame(conn, msg) {
				return
			}
		case <-pingTk.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func writeTailFrame(conn *websocket.Conn, msg any) bool {
	b, err := gojson.Marshal(msg)
	if err != nil {
		return true
	}
	return conn.WriteMessage(websocket.TextMessage, b) == nil
}
