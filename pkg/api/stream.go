package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/localserve/devsup/pkg/logger"
	"github.com/localserve/devsup/pkg/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // localhost tool
	},
}

// Streamer pushes visible-log updates over WebSocket connections.
type Streamer struct {
	reg *registry.Registry
}

// NewStreamer creates a log streamer over a registry.
func NewStreamer(reg *registry.Registry) *Streamer {
	return &Streamer{reg: reg}
}

// StreamLogs handles GET /api/services/{name}/logs/stream. It sends the
// current visible log, then appended output as the buffer publishes new
// snapshots.
func (s *Streamer) StreamLogs(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	sup := s.reg.Get(name)
	if sup == nil {
		http.Error(w, "unknown service: "+name, http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "service", name, "error", err)
		return
	}
	defer conn.Close()
	logger.Debug("websocket connected", "service", name)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	// Reader goroutine detects client disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	changes, unsubscribe := sup.Subscribe()
	defer unsubscribe()

	sent := sup.Snapshot().VisibleLog
	if sent != "" {
		if err := writeText(conn, sent); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("websocket stream ended", "service", name)
			return
		case <-changes:
			current := sup.Snapshot().VisibleLog
			if current == sent {
				continue
			}
			// Send only the appended tail when the ring has not wrapped.
			payload := current
			if strings.HasPrefix(current, sent) {
				payload = strings.TrimPrefix(current, sent)
			}
			if err := writeText(conn, strings.TrimPrefix(payload, "\n")); err != nil {
				return
			}
			sent = current
		}
	}
}

func writeText(conn *websocket.Conn, text string) error {
	if text == "" {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}
