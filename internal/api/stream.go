// Websocket notification stream. Each client gets its own bus subscription
// and a buffered send; a client that cannot keep up misses notifications
// rather than stalling the engine.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/lumenworld/internal/bus"
)

const (
	streamBuffer  = 256
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The engine has no session model; origin policy belongs to the real
	// transport layer in front of this.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades to a websocket and forwards bus notifications. An
// optional ?type= filter subscribes to a single notification type.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("stream upgrade failed", "error", err)
		return
	}

	var ch <-chan bus.Notification
	var cancel func()
	if typ := r.URL.Query().Get("type"); typ != "" {
		ch, cancel = s.Bus.Subscribe(bus.Type(typ), streamBuffer)
	} else {
		ch, cancel = s.Bus.SubscribeAll(streamBuffer)
	}

	slog.Info("stream client connected", "remote", r.RemoteAddr)
	go s.streamWriter(conn, ch, cancel)
	go streamReader(conn)
}

// streamWriter pushes notifications and pings until the subscription or the
// connection dies.
func (s *Server) streamWriter(conn *websocket.Conn, ch <-chan bus.Notification, cancel func()) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(n); err != nil {
				slog.Debug("stream write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReader drains client frames so pongs and close messages are
// processed; the stream is one-way otherwise.
func streamReader(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
