package signaling

import "encoding/json"

// Message types exchanged over the signaling websocket. Client to
// server: join, leave, offer, answer, ice-candidate, ping. Server to
// client: welcome, room-joined, room-left, peer-joined, peer-left,
// pong, error, plus relayed offer/answer/ice-candidate.
const (
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypePing         = "ping"

	TypeWelcome    = "welcome"
	TypeRoomJoined = "room-joined"
	TypeRoomLeft   = "room-left"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypePong       = "pong"
	TypeError      = "error"
)

// Message is the wire format for every signaling exchange. Payload is
// passed through verbatim; the broker never inspects SDP or ICE
// content.
type Message struct {
	Type     string          `json:"type"`
	FromPeer string          `json:"from_peer,omitempty"`
	ToPeer   string          `json:"to_peer,omitempty"`
	RoomID   string          `json:"room_id,omitempty"`
	PeerID   string          `json:"peer_id,omitempty"`
	Peers    []string        `json:"peers,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func errorMessage(text string) *Message {
	payload, _ := json.Marshal(map[string]string{"error": text})
	return &Message{Type: TypeError, Payload: payload}
}
