package relay

import (
	"sync"
	"time"

	"github.com/signalrelay/hub/internal/metrics"
	"github.com/signalrelay/hub/internal/ratelimit"
)

// DefaultCapacity is the default maximum members per room.
const DefaultCapacity = 4

// AdmitResult is the outcome of a Registry.Admit call.
type AdmitResult int

const (
	AdmitOK AdmitResult = iota
	AdmitRoomFull
	AdmitDuplicateID
)

// Registry is the sole owner of room membership and activity
// timestamps. It exposes short critical sections (admit/remove/
// snapshot); fan-out must happen outside any lock it returns, over a
// point-in-time snapshot.
type Registry struct {
	capacity int

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry constructs an empty Registry with the given per-room
// member capacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		rooms:    make(map[string]*Room),
	}
}

// Admit atomically creates the room if absent, rejects if it is at
// capacity or the clientID is already present, and otherwise appends
// the member and returns it. It updates the room's lastActivity.
func (reg *Registry) Admit(code, clientID, subject string, conn wsConn, limiter *ratelimit.Limiter, outboundCap int) (*Member, AdmitResult) {
	room := reg.getOrCreateRoom(code)

	room.mu.Lock()
	defer room.mu.Unlock()

	if _, exists := room.byClientID[clientID]; exists {
		return nil, AdmitDuplicateID
	}
	if len(room.members) >= room.Capacity {
		return nil, AdmitRoomFull
	}

	member := newMember(clientID, subject, code, conn, limiter, outboundCap)
	room.members = append(room.members, member)
	room.byClientID[clientID] = member
	room.lastActivity = time.Now()

	metrics.ActiveConnections.Inc()
	reg.refreshActiveRoomsGauge()

	return member, AdmitOK
}

func (reg *Registry) getOrCreateRoom(code string) *Room {
	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if ok {
		return room
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if room, ok := reg.rooms[code]; ok {
		return room
	}
	room = newRoom(code, reg.capacity)
	reg.rooms[code] = room
	return room
}

// Remove removes clientID from room code. It is idempotent: removing a
// member twice, or a member that was never admitted, is a no-op. A
// room left with zero members is pruned immediately, so a subsequent
// Admit with the same code creates a fresh room with no residual
// state.
func (reg *Registry) Remove(code, clientID string) {
	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return
	}

	room.mu.Lock()
	member, ok := room.byClientID[clientID]
	if !ok {
		room.mu.Unlock()
		return
	}
	delete(room.byClientID, clientID)
	for i, m := range room.members {
		if m == member {
			room.members = append(room.members[:i], room.members[i+1:]...)
			break
		}
	}
	room.lastActivity = time.Now()
	empty := len(room.members) == 0
	room.mu.Unlock()

	metrics.ActiveConnections.Dec()

	if empty {
		reg.pruneIfEmpty(code)
	}
	reg.refreshActiveRoomsGauge()
}

func (reg *Registry) pruneIfEmpty(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[code]
	if !ok {
		return
	}
	room.mu.Lock()
	empty := len(room.members) == 0
	room.mu.Unlock()
	if empty {
		delete(reg.rooms, code)
	}
}

// MembersOf returns a point-in-time snapshot of code's current
// members, safe to iterate without holding any registry or room lock.
func (reg *Registry) MembersOf(code string) []*Member {
	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return nil
	}
	return room.snapshot()
}

// TouchedNow updates code's lastActivity without a membership change.
// It is a no-op if the room no longer exists.
func (reg *Registry) TouchedNow(code string) {
	reg.mu.RLock()
	room, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return
	}
	room.mu.Lock()
	room.lastActivity = time.Now()
	room.mu.Unlock()
}

// SweepIdle detaches and returns rooms whose lastActivity is older
// than now-ttl (inclusive of the boundary: lastActivity == now-ttl is
// eligible). Closing member connections for the returned rooms is the
// caller's responsibility; SweepIdle only removes the room from the
// registry so a concurrent Admit for the same code starts fresh rather
// than racing the close-out. Detached rooms never see a later Remove
// call for their members (the room is already gone from the map), so
// the active-connections gauge is decremented here, not in Remove.
func (reg *Registry) SweepIdle(now time.Time, ttl time.Duration) []*Room {
	cutoff := now.Add(-ttl)

	reg.mu.Lock()
	var idle []*Room
	evicted := 0
	for code, room := range reg.rooms {
		room.mu.Lock()
		stale := !room.lastActivity.After(cutoff)
		if stale {
			evicted += len(room.members)
		}
		room.mu.Unlock()
		if stale {
			idle = append(idle, room)
			delete(reg.rooms, code)
		}
	}
	reg.mu.Unlock()

	if evicted > 0 {
		metrics.ActiveConnections.Sub(float64(evicted))
	}
	reg.refreshActiveRoomsGauge()
	return idle
}

func (reg *Registry) refreshActiveRoomsGauge() {
	reg.mu.RLock()
	metrics.ActiveRooms.Set(float64(len(reg.rooms)))
	reg.mu.RUnlock()
}

// RoomCount reports the current number of tracked rooms, for tests and
// diagnostics.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// DetachAll removes and returns every room in the registry,
// unconditionally. It is used on server shutdown, where every room is
// torn down regardless of its activity timestamp. As with SweepIdle,
// the gauge is decremented here rather than left to a later Remove,
// since the room is already gone from the map by the time the
// connection's own teardown runs.
func (reg *Registry) DetachAll() []*Room {
	reg.mu.Lock()
	out := make([]*Room, 0, len(reg.rooms))
	evicted := 0
	for code, room := range reg.rooms {
		out = append(out, room)
		evicted += room.memberCount()
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()

	if evicted > 0 {
		metrics.ActiveConnections.Sub(float64(evicted))
	}
	reg.refreshActiveRoomsGauge()
	return out
}
