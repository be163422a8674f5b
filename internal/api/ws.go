package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/adwd/internal/hub"
	"github.com/zjrosen/adwd/internal/log"
)

// upgrader accepts any origin. The daemon binds loopback by default and
// trusts whatever the operator put in front of it.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket upgrades the connection and subscribes it to one topic. The
// subscriber receives a snapshot frame immediately, then deltas as the
// topic changes.
// GET /ws/{topic...}
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	topic, err := hub.ParseTopic(r.PathValue("topic"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "unknown_topic", "Unknown topic", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Debug(log.CatHub, "websocket upgrade failed", "topic", topic, "error", err)
		return
	}

	if _, err := h.hub.Subscribe(topic, conn); err != nil {
		log.Warn(log.CatHub, "subscribe failed", "topic", topic, "error", err)
		_ = conn.Close()
	}
}
