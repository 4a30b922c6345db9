// Package relay implements the signaling core: the room registry, the
// per-connection state machine, the fan-out router, and the idle
// sweeper.
package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signalrelay/hub/internal/ratelimit"
)

// Envelope types the hub itself produces or routes verbatim.
const (
	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"
	TypeError      = "error"
)

const serverSenderID = "server"

// wsConn is the subset of *websocket.Conn that Member needs. Narrowing
// it to an interface lets tests exercise Member/Registry/Router with a
// fake connection instead of a nil *websocket.Conn, which panics the
// moment any teardown path touches it.
type wsConn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Envelope is the on-wire unit. Server-originated envelopes are
// plaintext JSON built by the hub; peer-originated envelopes are never
// decoded, not even to check that they are well-formed JSON — the hub
// forwards peer frames as opaque bytes and never unmarshals them into
// this struct.
type Envelope struct {
	Type     string          `json:"type"`
	SenderID string          `json:"senderId,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// PeerEventPayload is the payload of a peer_joined/peer_left envelope.
type PeerEventPayload struct {
	PeerID string `json:"peerId"`
	Ts     string `json:"ts"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marshalServerEnvelope(typ, targetID string, payload interface{}) []byte {
	p, err := json.Marshal(payload)
	if err != nil {
		p = json.RawMessage(`{}`)
	}
	env := Envelope{Type: typ, SenderID: serverSenderID, TargetID: targetID, Payload: p}
	data, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return data
}

func peerJoinedFrame(peerID string) []byte {
	return marshalServerEnvelope(TypePeerJoined, "*", PeerEventPayload{PeerID: peerID, Ts: nowISO8601()})
}

func peerLeftFrame(peerID string) []byte {
	return marshalServerEnvelope(TypePeerLeft, "*", PeerEventPayload{PeerID: peerID, Ts: nowISO8601()})
}

func errorFrame(targetID, code, message string) []byte {
	return marshalServerEnvelope(TypeError, targetID, ErrorPayload{Code: code, Message: message})
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Member is a live connection inside a room. ConnID is a server-
// generated correlation id for logging, distinct from ClientID, which
// is client-supplied and used only for room membership and addressing.
type Member struct {
	ClientID string
	Subject  string
	RoomCode string
	ConnID   string

	conn    wsConn
	send    chan []byte
	limiter *ratelimit.Limiter

	joinedAt time.Time

	mu     sync.Mutex
	closed bool

	// writeMu serializes every write to conn. gorilla/websocket forbids
	// concurrent writers; writePump is the steady-state writer, but the
	// slow-consumer and shutdown teardown paths must also write a final
	// frame from their own goroutine, so every write path shares this lock.
	writeMu sync.Mutex
}

func newMember(clientID, subject, roomCode string, conn wsConn, limiter *ratelimit.Limiter, outboundCap int) *Member {
	return &Member{
		ClientID: clientID,
		Subject:  subject,
		RoomCode: roomCode,
		ConnID:   uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, outboundCap),
		limiter:  limiter,
		joinedAt: time.Now(),
	}
}

// enqueue attempts a non-blocking send to the member's outbound queue.
// It reports false if the queue was full (slow consumer) or the member
// has already been closed.
func (m *Member) enqueue(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	select {
	case m.send <- frame:
		return true
	default:
		return false
	}
}

// close is idempotent; it marks the member closed and closes the
// outbound channel, waking the writer loop so it can exit.
func (m *Member) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.send)
}

// writeLocked writes messageType/data under writeMu, so it cannot race
// another goroutine's write to the same connection. Every writer of
// this connection, including writePump's steady-state loop, must go
// through this method instead of calling conn.WriteMessage directly.
func (m *Member) writeLocked(messageType int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return m.conn.WriteMessage(messageType, data)
}

// writeDirect is writeLocked for callers with no write error to act on.
func (m *Member) writeDirect(messageType int, data []byte) {
	_ = m.writeLocked(messageType, data)
}

// closeWithError is the slow-consumer / protocol-violation teardown
// path: the member's outbound queue is assumed full or unreliable, so
// the error envelope is written directly to the socket, bypassing the
// queue, on a best-effort basis before the connection is torn down.
func (m *Member) closeWithError(code, message string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.writeDirect(websocket.TextMessage, errorFrame(m.ClientID, code, message))
	_ = m.conn.Close()
	close(m.send)
}

// shutdownClose tears a member down without an error envelope, for
// server-wide graceful shutdown where the closing reason is not a
// per-connection fault.
func (m *Member) shutdownClose() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.writeDirect(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	_ = m.conn.Close()
	close(m.send)
}

// Room holds the members sharing an opaque code.
type Room struct {
	Code     string
	Capacity int

	mu           sync.Mutex
	members      []*Member // insertion order preserved
	byClientID   map[string]*Member
	lastActivity time.Time
}

func newRoom(code string, capacity int) *Room {
	return &Room{
		Code:         code,
		Capacity:     capacity,
		byClientID:   make(map[string]*Member),
		lastActivity: time.Now(),
	}
}

func (r *Room) snapshot() []*Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Member, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
