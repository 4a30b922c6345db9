package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signalrelay/hub/internal/auth/staticverifier"
)

func testHub(t *testing.T, cfg Config) (*Hub, *staticverifier.Verifier) {
	t.Helper()
	verifier := staticverifier.New()
	hub := NewHub(cfg, verifier, NewOriginChecker(nil), zap.NewNop())
	return hub, verifier
}

func testServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(r.Context(), hub, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, room, clientID, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + room + "&clientId=" + clientID + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func assertNoMessage(t *testing.T, conn *websocket.Conn, within time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(within))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "expected no message within the window")
}

func TestServeWS_JoinAnnouncesToExistingMembersOnly(t *testing.T) {
	cfg := DefaultConfig()
	hub, verifier := testHub(t, cfg)
	srv := testServer(t, hub)

	verifier.Register("tok-a", "alice-sub", time.Minute)
	verifier.Register("tok-b", "bob-sub", time.Minute)

	alice := dial(t, srv, "room1", "alice", "tok-a")
	defer alice.Close()

	bob := dial(t, srv, "room1", "bob", "tok-b")
	defer bob.Close()

	env := readEnvelope(t, alice, 2*time.Second)
	assert.Equal(t, TypePeerJoined, env.Type)

	var payload PeerEventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "bob", payload.PeerID)

	// bob must not see his own join.
	assertNoMessage(t, bob, 200*time.Millisecond)
}

func TestServeWS_FanOutExcludesSender(t *testing.T) {
	cfg := DefaultConfig()
	hub, verifier := testHub(t, cfg)
	srv := testServer(t, hub)

	verifier.Register("tok-a", "a", time.Minute)
	verifier.Register("tok-b", "b", time.Minute)

	alice := dial(t, srv, "room1", "alice", "tok-a")
	defer alice.Close()
	bob := dial(t, srv, "room1", "bob", "tok-b")
	defer bob.Close()

	// Drain alice's peer_joined-for-bob notification.
	readEnvelope(t, alice, 2*time.Second)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"offer","sdp":"..."}`)))

	conn := bob
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","sdp":"..."}`, string(data))

	assertNoMessage(t, alice, 200*time.Millisecond)
}

func TestServeWS_DuplicateClientIDRejected(t *testing.T) {
	cfg := DefaultConfig()
	hub, verifier := testHub(t, cfg)
	srv := testServer(t, hub)

	verifier.Register("tok-a", "a", time.Minute)
	verifier.Register("tok-a2", "a2", time.Minute)

	first := dial(t, srv, "room1", "alice", "tok-a")
	defer first.Close()

	second := dial(t, srv, "room1", "alice", "tok-a2")
	defer second.Close()

	env := readEnvelope(t, second, 2*time.Second)
	assert.Equal(t, TypeError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "bad_request", payload.Code)
}

func TestServeWS_RoomCapacityEnforced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RoomCapacity = 1
	hub, verifier := testHub(t, cfg)
	srv := testServer(t, hub)

	verifier.Register("tok-a", "a", time.Minute)
	verifier.Register("tok-b", "b", time.Minute)

	first := dial(t, srv, "room1", "alice", "tok-a")
	defer first.Close()

	second := dial(t, srv, "room1", "bob", "tok-b")
	defer second.Close()

	env := readEnvelope(t, second, 2*time.Second)
	assert.Equal(t, TypeError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "room_full", payload.Code)
}

func TestServeWS_AuthFailureRejectsUpgrade(t *testing.T) {
	cfg := DefaultConfig()
	hub, _ := testHub(t, cfg)
	srv := testServer(t, hub)

	conn := dial(t, srv, "room1", "alice", "not-a-real-token")
	defer conn.Close()

	env := readEnvelope(t, conn, 2*time.Second)
	assert.Equal(t, TypeError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "auth_failed", payload.Code)
}

func TestServeWS_LeaveAnnouncesToRemainingMembers(t *testing.T) {
	cfg := DefaultConfig()
	hub, verifier := testHub(t, cfg)
	srv := testServer(t, hub)

	verifier.Register("tok-a", "a", time.Minute)
	verifier.Register("tok-b", "b", time.Minute)

	alice := dial(t, srv, "room1", "alice", "tok-a")
	defer alice.Close()
	bob := dial(t, srv, "room1", "bob", "tok-b")

	readEnvelope(t, alice, 2*time.Second) // bob's peer_joined

	require.NoError(t, bob.Close())

	env := readEnvelope(t, alice, 2*time.Second)
	assert.Equal(t, TypePeerLeft, env.Type)

	var payload PeerEventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "bob", payload.PeerID)

	assert.Eventually(t, func() bool {
		return hub.Registry().RoomCount() == 1 && len(hub.Registry().MembersOf("room1")) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServeWS_RateLimitBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitN = 2
	cfg.RateLimitWindow = time.Second
	hub, verifier := testHub(t, cfg)
	srv := testServer(t, hub)

	verifier.Register("tok-a", "a", time.Minute)
	verifier.Register("tok-b", "b", time.Minute)

	alice := dial(t, srv, "room1", "alice", "tok-a")
	defer alice.Close()
	bob := dial(t, srv, "room1", "bob", "tok-b")
	defer bob.Close()

	readEnvelope(t, alice, 2*time.Second) // bob's peer_joined

	for i := int64(0); i < cfg.RateLimitN; i++ {
		require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
		readEnvelope(t, bob, 2*time.Second)
	}

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	env := readEnvelope(t, alice, 2*time.Second)
	assert.Equal(t, TypeError, env.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "rate_limited", payload.Code)
}

func TestHub_ShutdownEmitsFinalPeerLeft(t *testing.T) {
	cfg := DefaultConfig()
	hub, verifier := testHub(t, cfg)
	srv := testServer(t, hub)

	verifier.Register("tok-a", "a", time.Minute)
	verifier.Register("tok-b", "b", time.Minute)

	alice := dial(t, srv, "room1", "alice", "tok-a")
	defer alice.Close()
	bob := dial(t, srv, "room1", "bob", "tok-b")
	defer bob.Close()

	readEnvelope(t, alice, 2*time.Second) // bob's peer_joined

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hub.Shutdown(ctx)

	env := readEnvelope(t, alice, 2*time.Second)
	assert.Equal(t, TypePeerLeft, env.Type)

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err, "connection should be closed after shutdown")
}
