package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Broker tracks live peers and room membership and relays
// session-negotiation messages between peers. It is constructed once
// at startup and passed into every connection handler; there is no
// package-level instance.
//
// All membership mutations and the broadcasts they trigger run under
// one mutex, so no broadcast ever observes a membership set
// mid-mutation. Delivery itself is a non-blocking enqueue into the
// target's send queue; the broker never blocks on a slow peer.
type Broker struct {
	mu       sync.Mutex
	peers    map[string]*Client
	rooms    map[string]map[string]struct{}
	peerRoom map[string]string

	msgRate  float64
	msgBurst int

	log *slog.Logger
}

// Options configures a Broker.
type Options struct {
	// MessageRate / MessageBurst bound inbound signaling messages
	// per peer.
	MessageRate  float64
	MessageBurst int
}

// NewBroker creates an empty Broker.
func NewBroker(opts Options) *Broker {
	if opts.MessageRate <= 0 {
		opts.MessageRate = 50
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 100
	}
	return &Broker{
		peers:    make(map[string]*Client),
		rooms:    make(map[string]map[string]struct{}),
		peerRoom: make(map[string]string),
		msgRate:  opts.MessageRate,
		msgBurst: opts.MessageBurst,
		log:      slog.Default().With("component", "signaling"),
	}
}

// Connect registers a live connection for the peer id. If a connection
// already exists for that id the new one replaces it and the prior
// connection is closed with a policy-violation frame (last-writer-wins;
// the peer's room membership is untouched by the swap).
func (b *Broker) Connect(c *Client) {
	b.mu.Lock()
	old := b.peers[c.ID]
	b.peers[c.ID] = c
	b.mu.Unlock()

	if old != nil {
		b.log.Info("connection superseded", "peer", c.ID)
		old.shutdown(websocket.ClosePolicyViolation, "superseded by a newer connection")
	}
	b.log.Debug("peer connected", "peer", c.ID)
}

// Disconnect removes the client if it is still the live connection for
// its peer id, leaving its room first. It is idempotent and a no-op
// for superseded or unknown connections.
func (b *Broker) Disconnect(c *Client) {
	b.mu.Lock()
	if b.peers[c.ID] != c {
		b.mu.Unlock()
		c.shutdown(0, "")
		return
	}
	b.leaveRoomLocked(c.ID)
	delete(b.peers, c.ID)
	b.mu.Unlock()

	c.shutdown(0, "")
	b.log.Debug("peer disconnected", "peer", c.ID)
}

// JoinRoom adds the peer to the room, creating the room on first join
// and implicitly leaving any previous room. Other members receive a
// peer-joined broadcast; the returned slice is the membership as it
// was before the join, for the joiner's room-joined reply. Joining the
// room the peer is already in is idempotent: the member list is
// returned again and the others see no peer-left/peer-joined churn.
func (b *Broker) JoinRoom(peerID, roomID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.peers[peerID]; !ok {
		return nil
	}
	if current, ok := b.peerRoom[peerID]; ok {
		if current == roomID {
			return b.membersLocked(roomID, peerID)
		}
		b.leaveRoomLocked(peerID)
	}

	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		b.rooms[roomID] = members
	}
	prior := b.membersLocked(roomID, peerID)
	members[peerID] = struct{}{}
	b.peerRoom[peerID] = roomID

	b.broadcastLocked(roomID, peerID, &Message{
		Type:   TypePeerJoined,
		PeerID: peerID,
		RoomID: roomID,
	})
	b.log.Info("peer joined room", "peer", peerID, "room", roomID)
	return prior
}

// LeaveRoom removes the peer from its room, if any, notifying the
// remaining members and deleting the room when it empties.
func (b *Broker) LeaveRoom(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveRoomLocked(peerID)
}

func (b *Broker) leaveRoomLocked(peerID string) {
	roomID, ok := b.peerRoom[peerID]
	if !ok {
		return
	}
	delete(b.peerRoom, peerID)

	members := b.rooms[roomID]
	delete(members, peerID)
	if len(members) == 0 {
		delete(b.rooms, roomID)
		b.log.Info("room deleted", "room", roomID)
	} else {
		b.broadcastLocked(roomID, peerID, &Message{
			Type:   TypePeerLeft,
			PeerID: peerID,
			RoomID: roomID,
		})
	}
	b.log.Info("peer left room", "peer", peerID, "room", roomID)
}

// RelayDirected forwards a message to the target peer's live
// connection. A missing target or a full target queue drops the
// message silently: this is a best-effort relay, not a message bus,
// and the sender is never told.
func (b *Broker) RelayDirected(from, to, msgType string, payload json.RawMessage) {
	b.mu.Lock()
	target, ok := b.peers[to]
	b.mu.Unlock()
	if !ok {
		b.log.Debug("relay target not connected", "from", from, "to", to, "type", msgType)
		return
	}
	if !target.enqueue(&Message{Type: msgType, FromPeer: from, Payload: payload}) {
		b.log.Warn("relay target queue full, disconnecting", "to", to)
		b.Disconnect(target)
	}
}

// broadcastLocked enqueues msg to every member of the room except
// exclude. Members whose queue is full are collected and disconnected
// after the lock is released by the caller's deferred unlock; a send
// failure to one peer never affects the others.
func (b *Broker) broadcastLocked(roomID, exclude string, msg *Message) {
	var stalled []*Client
	for id := range b.rooms[roomID] {
		if id == exclude {
			continue
		}
		peer, ok := b.peers[id]
		if !ok {
			continue
		}
		if !peer.enqueue(msg) {
			stalled = append(stalled, peer)
		}
	}
	for _, peer := range stalled {
		b.log.Warn("peer queue full during broadcast, disconnecting", "peer", peer.ID)
		go b.Disconnect(peer)
	}
}

// membersLocked snapshots the room membership minus exclude. Order is
// not significant.
func (b *Broker) membersLocked(roomID, exclude string) []string {
	members := b.rooms[roomID]
	out := make([]string, 0, len(members))
	for id := range members {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// RoomInfo is a diagnostic snapshot of one room.
type RoomInfo struct {
	RoomID    string   `json:"room_id"`
	Peers     []string `json:"peers"`
	PeerCount int      `json:"peer_count"`
}

// Rooms snapshots all live rooms for the diagnostics endpoint.
func (b *Broker) Rooms() []RoomInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RoomInfo, 0, len(b.rooms))
	for id := range b.rooms {
		peers := b.membersLocked(id, "")
		out = append(out, RoomInfo{RoomID: id, Peers: peers, PeerCount: len(peers)})
	}
	return out
}

// PeerCount reports the number of live connections.
func (b *Broker) PeerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}
