package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/domain"
)

type member struct {
	entry RosterEntry
	conn  SignalConn
}

// Room is the live side of one party: the set of reachable connection
// handles plus the authoritative playback state. All mutations and the
// fan-outs they trigger run under one mutex, so every handle observes
// presence and playback events in the order the room processed them.
// Rooms never close adapter-owned connections.
type Room struct {
	partyID domain.PartyID

	mu       sync.Mutex
	members  map[HandleID]*member
	byUser   map[domain.UserID]HandleID
	playback *domain.PlaybackState
	closed   bool
}

// JoinStatus reports the outcome of a Room.Join attempt.
type JoinStatus int

const (
	JoinOK JoinStatus = iota
	// JoinRoomFull rejects a new user once the member cap is reached.
	JoinRoomFull
	// JoinRoomClosed means the room was sealed and removed from the
	// registry; the caller retries against a fresh lookup.
	JoinRoomClosed
)

func NewRoom(partyID domain.PartyID) *Room {
	return &Room{
		partyID: partyID,
		members: make(map[HandleID]*member),
		byUser:  make(map[domain.UserID]HandleID),
	}
}

func (r *Room) PartyID() domain.PartyID { return r.partyID }

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Join installs the handle and broadcasts presence to everyone else.
// At most one handle per (party, user): an existing handle for the same
// user is told it was superseded and returned for the caller to unbind
// and close. The member cap is enforced here, under the same mutex as
// the install, so concurrent joins cannot overshoot it; a user already
// present is exempt so reconnects never get locked out. Frames are
// prebuilt so no encoding happens under the lock.
func (r *Room) Join(e RosterEntry, conn SignalConn, limit int, presence, superseded Frame) (evicted HandleID, evictedConn SignalConn, res PublishResult, st JoinStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", nil, res, JoinRoomClosed
	}
	old, rejoining := r.byUser[e.UserID]
	if limit > 0 && !rejoining && len(r.members) >= limit {
		return "", nil, res, JoinRoomFull
	}
	if rejoining && old != e.Handle {
		if m := r.members[old]; m != nil {
			_ = m.conn.TrySend(superseded)
			evicted, evictedConn = old, m.conn
		}
		delete(r.members, old)
	}
	r.members[e.Handle] = &member{entry: e, conn: conn}
	r.byUser[e.UserID] = e.Handle

	res = r.broadcastLocked(e.Handle, presence)
	log.Info().Str("module", "core.room").Str("party_id", string(r.partyID)).
		Str("handle", string(e.Handle)).Str("user_id", string(e.UserID)).Msg("member joined")
	return evicted, evictedConn, res, JoinOK
}

// Seal marks an empty room closed so no join can land after the
// registry removes it. Fails when the room picked up a member since the
// caller's empty check.
func (r *Room) Seal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 {
		return false
	}
	r.closed = true
	return true
}

// Shutdown delivers f to every member, empties the room and refuses any
// later join. Returns the roster that was present.
func (r *Room) Shutdown(f Frame) []RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked("", f)
	out := make([]RosterEntry, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.entry)
	}
	r.members = make(map[HandleID]*member)
	r.byUser = make(map[domain.UserID]HandleID)
	r.closed = true
	return out
}

// Leave removes the handle and broadcasts presence to the rest.
// empty reports whether the room is now unoccupied and can be collected.
func (r *Room) Leave(h HandleID, presence Frame) (e RosterEntry, ok, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, found := r.members[h]
	if !found {
		return RosterEntry{}, false, len(r.members) == 0
	}
	delete(r.members, h)
	if r.byUser[m.entry.UserID] == h {
		delete(r.byUser, m.entry.UserID)
	}
	r.broadcastLocked(h, presence)
	log.Info().Str("module", "core.room").Str("party_id", string(r.partyID)).
		Str("handle", string(h)).Str("user_id", string(m.entry.UserID)).Msg("member left")
	return m.entry, true, len(r.members) == 0
}

// Resolve maps a handle back to its identity.
func (r *Room) Resolve(h HandleID) (RosterEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[h]; ok {
		return m.entry, true
	}
	return RosterEntry{}, false
}

// Send delivers one frame to one handle. A missing handle or a full
// buffer is reported as domain.ErrPeerUnreachable; disconnect races are
// routine here, not exceptional.
func (r *Room) Send(to HandleID, f Frame) error {
	r.mu.Lock()
	m, ok := r.members[to]
	r.mu.Unlock()
	if !ok {
		return domain.ErrPeerUnreachable
	}
	if err := m.conn.TrySend(f); err != nil {
		return domain.ErrPeerUnreachable
	}
	return nil
}

// Broadcast fans a frame out to every member except from.
func (r *Room) Broadcast(from HandleID, f Frame) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(from, f)
}

func (r *Room) broadcastLocked(from HandleID, f Frame) PublishResult {
	res := PublishResult{}
	if f == nil {
		return res
	}
	for h, m := range r.members {
		if h == from {
			continue
		}
		if err := m.conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, h)
			continue
		}
		res.SentTo++
	}
	return res
}

// Roster returns a snapshot of the current live membership.
func (r *Room) Roster() []RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RosterEntry, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.entry)
	}
	return out
}

// Playback returns the current state, if any update was ever accepted.
func (r *Room) Playback() (domain.PlaybackState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playback == nil {
		return domain.PlaybackState{}, false
	}
	return *r.playback, true
}

// ApplyPlayback merges the update into the party state and broadcasts
// the resulting full state to every handle except the sender. encode
// runs under the lock so concurrent updates broadcast in apply order.
func (r *Room) ApplyPlayback(from HandleID, u domain.PlaybackUpdate, encode func(domain.PlaybackState) Frame) (domain.PlaybackState, PublishResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cur domain.PlaybackState
	if r.playback != nil {
		cur = *r.playback
	}
	next := u.Apply(cur)
	r.playback = &next
	res := r.broadcastLocked(from, encode(next))
	return next, res
}
