package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fluxfile/fluxfile/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Signaling carries no credentials and the broker enforces its
	// own per-peer limits, so cross-origin browser clients are
	// accepted.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades the connection and hands it to the broker.
// The peer id comes from the peer_id query parameter; a client that
// omits it is assigned one, echoed back in the welcome message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		peerID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := signaling.NewClient(peerID, s.broker, conn)
	s.broker.Connect(client)
	client.Welcome()

	go client.WritePump()
	go client.ReadPump()
}
