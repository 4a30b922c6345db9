package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/signalrelay/hub/internal/metrics"
	"github.com/signalrelay/hub/internal/relayerr"
)

const (
	minRoomLen     = 1
	maxRoomLen     = 64
	minClientIDLen = 1
	maxClientIDLen = 128

	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// ServeWS upgrades r and runs the connection state machine:
// INIT -> AUTH -> ADMIT -> OPEN -> CLOSED.
func ServeWS(ctx context.Context, hub *Hub, w http.ResponseWriter, r *http.Request) {
	logger := hub.logger
	remote := r.RemoteAddr

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote", remote))
		return
	}

	roomCode := r.URL.Query().Get("room")
	clientID := r.URL.Query().Get("clientId")
	token := r.URL.Query().Get("token")

	if err := validateQuery(roomCode, clientID); err != nil {
		rejectUpgrade(conn, clientID, err, logger, remote)
		return
	}

	subject, err := hub.verifier.Verify(ctx, token)
	if err != nil {
		rejectUpgrade(conn, clientID, relayerr.New(relayerr.AuthFailed, "invalid or missing token"), logger, remote)
		return
	}

	limiter := hub.limiters.For(roomCode + "/" + clientID)
	member, result := hub.registry.Admit(roomCode, clientID, subject, conn, limiter, hub.cfg.OutboundQueueSize)
	switch result {
	case AdmitDuplicateID:
		rejectUpgrade(conn, clientID, relayerr.New(relayerr.BadRequest, "clientId already in use in this room"), logger, remote)
		return
	case AdmitRoomFull:
		rejectUpgrade(conn, clientID, relayerr.New(relayerr.RoomFull, "room at capacity"), logger, remote)
		return
	}

	logger.Info("connection opened",
		zap.String("connId", member.ConnID),
		zap.String("room", roomCode),
		zap.String("clientId", clientID),
		zap.String("subject", subject),
		zap.String("remote", remote))

	announceJoin(hub, roomCode, member)
	runConnection(hub, member)
}

func rejectUpgrade(conn *websocket.Conn, targetID string, rerr *relayerr.Error, logger *zap.Logger, remote string) {
	metrics.RejectionsTotal.WithLabelValues(string(rerr.Kind)).Inc()
	logger.Warn("connection rejected",
		zap.String("kind", string(rerr.Kind)),
		zap.String("reason", rerr.Message),
		zap.String("remote", remote))

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, errorFrame(targetID, string(rerr.Kind), rerr.Message))
	_ = conn.Close()
}

func validateQuery(room, clientID string) *relayerr.Error {
	if !validToken(room, minRoomLen, maxRoomLen) {
		return relayerr.New(relayerr.BadRequest, "room must be 1-64 bytes of printable, non-whitespace ASCII")
	}
	if !validToken(clientID, minClientIDLen, maxClientIDLen) {
		return relayerr.New(relayerr.BadRequest, "clientId must be 1-128 bytes of printable, non-whitespace ASCII")
	}
	return nil
}

// validToken enforces the length bound and rejects control characters,
// whitespace and non-ASCII bytes.
func validToken(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b <= 0x20 || b >= 0x7F {
			return false
		}
	}
	return true
}

// announceJoin emits peer_joined to every pre-existing member before
// the new member's read loop starts, guaranteeing no relay frame from
// the new member can be observed before its announcement.
func announceJoin(hub *Hub, roomCode string, newMember *Member) {
	frame := peerJoinedFrame(newMember.ClientID)
	for _, m := range hub.registry.MembersOf(roomCode) {
		if m == newMember {
			continue
		}
		m.enqueue(frame)
	}
}

// runConnection runs the read and write loops and blocks until both
// have exited, then removes the member from the registry and
// announces its departure to whoever remains.
func runConnection(hub *Hub, member *Member) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		readPump(hub, member)
	}()
	go func() {
		defer wg.Done()
		writePump(member)
	}()

	wg.Wait()

	hub.registry.Remove(member.RoomCode, member.ClientID)

	frame := peerLeftFrame(member.ClientID)
	for _, m := range hub.registry.MembersOf(member.RoomCode) {
		m.enqueue(frame)
	}

	hub.logger.Info("connection closed",
		zap.String("connId", member.ConnID),
		zap.String("room", member.RoomCode),
		zap.String("clientId", member.ClientID))
}

func readPump(hub *Hub, member *Member) {
	defer func() {
		member.close()
		_ = member.conn.Close()
	}()

	member.conn.SetReadLimit(hub.cfg.MaxFrameBytes)
	member.conn.SetReadDeadline(time.Now().Add(pongWait))
	member.conn.SetPongHandler(func(string) error {
		member.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := member.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				hub.logger.Debug("read error", zap.Error(err), zap.String("clientId", member.ClientID))
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		ok, err := member.limiter.TryAdmit(context.Background())
		if err != nil {
			hub.logger.Error("rate limiter error", zap.Error(err))
			continue
		}
		if !ok {
			metrics.RateLimitDenials.Inc()
			hub.logger.Info("rate limit denied frame",
				zap.String("room", member.RoomCode),
				zap.String("clientId", member.ClientID))
			member.enqueue(errorFrame(member.ClientID, string(relayerr.RateLimited), "rate limit exceeded"))
			continue
		}

		hub.router.Route(member.RoomCode, member, data)
	}
}

func writePump(member *Member) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = member.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-member.send:
			if !ok {
				member.writeDirect(websocket.CloseMessage, []byte{})
				return
			}
			if err := member.writeLocked(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := member.writeLocked(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
