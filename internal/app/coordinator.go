package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/domain"
	"github.com/pavelq/cowatch/internal/party"
	"github.com/pavelq/cowatch/internal/proto"
)

// Coordinator drives every live-session operation: presence
// registration, signaling relay and playback synchronization. Durable
// reads and writes go through the lifecycle service before any room
// lock is taken, so persistent-storage latency never stalls a party.
type Coordinator struct {
	Registry     *Registry
	Parties      *party.Service
	Policy       Policy
	MaxPartySize int
}

func NewCoordinator(reg *Registry, parties *party.Service, maxPartySize int) *Coordinator {
	return &Coordinator{
		Registry:     reg,
		Parties:      parties,
		Policy:       EvictSlowPolicy{},
		MaxPartySize: maxPartySize,
	}
}

// Join registers a handle for (party, user) and returns the bootstrap
// snapshot: current roster and playback state. A previous live handle
// for the same user is superseded and closed. Safe to call repeatedly;
// rejoin converges to exactly one live handle per user.
func (c *Coordinator) Join(ctx context.Context, h core.HandleID, partyID domain.PartyID, uid domain.UserID, displayName string, conn core.SignalConn) (*proto.RoomState, error) {
	p, err := c.Parties.Get(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, domain.ErrPartyEnded
	}
	if _, err := c.Parties.Participant(ctx, partyID, uid); err != nil {
		return nil, err
	}

	// A handle switching parties leaves the old one first; no handle may
	// be a member of two rooms at once.
	if prev, bound := c.Registry.PartyOf(h); bound && prev != partyID {
		log.Info().Str("module", "app.coordinator").Str("handle", string(h)).
			Str("from", string(prev)).Str("to", string(partyID)).Msg("handle switching parties")
		c.Leave(h)
	}

	entry := core.RosterEntry{Handle: h, UserID: uid, DisplayName: displayName}
	presence := proto.NewPresence(partyID, entry, proto.ActionJoined)
	superseded := proto.NewSuperseded(partyID)

	var (
		room *core.Room
		res  core.PublishResult
	)
	for {
		room = c.Registry.GetOrCreate(partyID)
		evicted, evictedConn, r, st := room.Join(entry, conn, c.MaxPartySize, presence, superseded)
		if st == core.JoinRoomClosed {
			// Lost the race against room collection; the next lookup
			// builds a fresh room.
			continue
		}
		if st == core.JoinRoomFull {
			return nil, fmt.Errorf("%w: limit %d", domain.ErrPartyFull, c.MaxPartySize)
		}
		if evicted != "" {
			c.Registry.Unbind(evicted)
			evictedConn.Close()
			log.Info().Str("module", "app.coordinator").Str("party_id", string(partyID)).
				Str("user_id", string(uid)).Str("evicted", string(evicted)).Msg("superseded older handle")
		}
		res = r
		break
	}
	c.Registry.Bind(h, partyID)
	c.applyBackpressure(room, res)

	state := &proto.RoomState{
		Type:    proto.TypeRoomState,
		PartyID: partyID,
		Self:    h,
		Roster:  room.Roster(),
	}
	if pb, ok := room.Playback(); ok {
		state.Playback = &pb
	}
	return state, nil
}

// Leave unregisters a handle, notifies the rest of the roster and
// collects the room (playback state included) when it was the last
// handle. Invoked on explicit leave_party and on transport disconnect.
func (c *Coordinator) Leave(h core.HandleID) {
	partyID, ok := c.Registry.PartyOf(h)
	if !ok {
		return
	}
	c.Registry.Unbind(h)

	room, ok := c.Registry.Room(partyID)
	if !ok {
		return
	}
	entry, known := room.Resolve(h)
	var presence core.Frame
	if known {
		presence = proto.NewPresence(partyID, entry, proto.ActionLeft)
	}
	if _, _, empty := room.Leave(h, presence); empty {
		c.Registry.DropRoomIfEmpty(partyID)
	}
}

// Relay ferries an opaque negotiation payload between two handles of
// the same party. A vanished destination is dropped quietly: disconnect
// races mid-negotiation are expected, and the mesh coordinator on the
// client re-derives state on loss.
func (c *Coordinator) Relay(from, to core.HandleID, payload json.RawMessage) error {
	fromParty, ok := c.Registry.PartyOf(from)
	if !ok {
		return domain.ErrNotAuthorized
	}
	toParty, ok := c.Registry.PartyOf(to)
	if !ok {
		log.Debug().Str("module", "app.coordinator").Str("from", string(from)).
			Str("to", string(to)).Msg("relay target gone, payload dropped")
		return nil
	}
	if fromParty != toParty {
		return domain.ErrNotAuthorized
	}
	room, ok := c.Registry.Room(fromParty)
	if !ok {
		return domain.ErrNotAuthorized
	}
	if err := room.Send(to, proto.NewSignal(from, payload)); err != nil {
		log.Debug().Str("module", "app.coordinator").Str("from", string(from)).
			Str("to", string(to)).Msg("relay delivery failed, payload dropped")
	}
	return nil
}

// SetPlayback merges the update into the party state and rebroadcasts
// the full result to every other handle. Last writer wins; the sender
// never receives its own echo.
func (c *Coordinator) SetPlayback(h core.HandleID, u domain.PlaybackUpdate) (domain.PlaybackState, error) {
	if u.Empty() {
		return domain.PlaybackState{}, fmt.Errorf("%w: empty playback update", domain.ErrInvalidInput)
	}
	partyID, ok := c.Registry.PartyOf(h)
	if !ok {
		return domain.PlaybackState{}, domain.ErrNotAuthorized
	}
	room, ok := c.Registry.Room(partyID)
	if !ok {
		return domain.PlaybackState{}, domain.ErrNotAuthorized
	}
	next, res := room.ApplyPlayback(h, u, func(s domain.PlaybackState) core.Frame {
		return proto.NewPlayback(partyID, s)
	})
	c.applyBackpressure(room, res)
	return next, nil
}

// Playback exposes the current state for bootstrap reads; ok is false
// when nothing has played yet or the party has no presence.
func (c *Coordinator) Playback(partyID domain.PartyID) (domain.PlaybackState, bool) {
	room, ok := c.Registry.Room(partyID)
	if !ok {
		return domain.PlaybackState{}, false
	}
	return room.Playback()
}

// EndParty persists the terminal transition, tells the live roster and
// tears the room down. The clean shutdown path: participants do not
// have to leave one by one first.
func (c *Coordinator) EndParty(ctx context.Context, partyID domain.PartyID) error {
	if err := c.Parties.End(ctx, partyID); err != nil {
		return err
	}
	room, ok := c.Registry.Room(partyID)
	if !ok {
		return nil
	}
	for _, e := range room.Shutdown(proto.NewPartyEnded(partyID)) {
		c.Registry.Unbind(e.Handle)
	}
	c.Registry.DropRoom(partyID)
	return nil
}

func (c *Coordinator) applyBackpressure(room *core.Room, res core.PublishResult) {
	if c.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch c.Policy.OnBackpressure(room, slow) {
		case EvictMember:
			log.Warn().Str("module", "app.coordinator").Str("handle", string(slow)).
				Str("party_id", string(room.PartyID())).Msg("evicting slow consumer")
			c.Leave(slow)
		case DropFrame:
		}
	}
}
