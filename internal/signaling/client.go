package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. Large enough for any
	// WebRTC SDP.
	maxMessageSize = 64 * 1024

	// Outbound messages buffered per peer before the peer counts as
	// too slow and is disconnected.
	sendQueueSize = 256
)

// conn is the subset of *websocket.Conn the client needs. Tests swap
// in an in-process implementation.
type conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Client is one live signaling connection. The read pump is the only
// reader and the write pump the only writer, per gorilla's one
// reader / one writer rule.
type Client struct {
	ID string

	broker  *Broker
	conn    conn
	limiter *rate.Limiter

	// Send is drained by WritePump. The broker enqueues into it
	// without blocking; a full queue disconnects this client only.
	Send chan *Message

	closeOnce sync.Once
	log       *slog.Logger
}

// NewClient wraps a websocket connection for the given peer id. The
// caller registers it with the broker and starts the pumps.
func NewClient(id string, b *Broker, c conn) *Client {
	return &Client{
		ID:      id,
		broker:  b,
		conn:    c,
		limiter: rate.NewLimiter(rate.Limit(b.msgRate), b.msgBurst),
		Send:    make(chan *Message, sendQueueSize),
		log:     slog.Default().With("component", "signaling", "peer", id),
	}
}

// Welcome tells the client its peer id. Sent once, right after the
// broker registers the connection.
func (c *Client) Welcome() {
	c.enqueue(&Message{Type: TypeWelcome, PeerID: c.ID})
}

// enqueue offers a message to the write pump without blocking.
// It reports false when the queue is full or already closed.
func (c *Client) enqueue(m *Message) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.Send <- m:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue and the underlying connection. Safe
// to call from any goroutine, any number of times.
func (c *Client) shutdown(closeCode int, reason string) {
	c.closeOnce.Do(func() {
		if closeCode != 0 {
			deadline := time.Now().Add(writeWait)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCode, reason), deadline)
		}
		close(c.Send)
		c.conn.Close()
	})
}

// ReadPump pumps messages from the websocket into the broker. It runs
// in a per-connection goroutine and is the connection's only reader.
// There is no read deadline: the broker never probes idle peers, and
// pings are client-initiated.
func (c *Client) ReadPump() {
	defer c.broker.Disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.log.Warn("message rate exceeded, disconnecting")
			c.shutdown(websocket.ClosePolicyViolation, "message rate exceeded")
			return
		}

		c.dispatch(&msg)
	}
}

// dispatch routes one inbound message to the broker.
func (c *Client) dispatch(msg *Message) {
	switch msg.Type {
	case TypeJoin:
		roomID := msg.RoomID
		if roomID == "" {
			roomID = "default"
		}
		prior := c.broker.JoinRoom(c.ID, roomID)
		c.enqueue(&Message{Type: TypeRoomJoined, RoomID: roomID, Peers: prior})

	case TypeLeave:
		c.broker.LeaveRoom(c.ID)
		c.enqueue(&Message{Type: TypeRoomLeft})

	case TypeOffer, TypeAnswer, TypeICECandidate:
		if msg.ToPeer == "" {
			c.enqueue(errorMessage("to_peer is required"))
			return
		}
		c.broker.RelayDirected(c.ID, msg.ToPeer, msg.Type, msg.Payload)

	case TypePing:
		c.enqueue(&Message{Type: TypePong})

	default:
		c.log.Warn("unknown message type", "type", msg.Type)
		c.enqueue(errorMessage("unknown message type: " + msg.Type))
	}
}

// WritePump pumps messages from the send queue to the websocket. It
// runs in a per-connection goroutine and is the connection's only
// writer. It exits when the queue is closed or a write fails.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.Send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(message); err != nil {
			c.log.Debug("write failed", "error", err)
			return
		}
	}
	// Queue closed by shutdown; tell the peer we are done.
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
}
