// Package app wires the ephemeral side together: the presence registry
// mapping connection handles to parties and the coordinator that drives
// joins, relays and playback updates.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/domain"
)

// Registry tracks which party each live handle belongs to and owns the
// room instances. Process-lifetime only; a restart simply shows empty
// rooms until clients rejoin.
type Registry struct {
	mu      sync.RWMutex
	handles map[core.HandleID]domain.PartyID
	rooms   map[domain.PartyID]*core.Room
}

func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[core.HandleID]domain.PartyID),
		rooms:   make(map[domain.PartyID]*core.Room),
	}
}

// GetOrCreate returns the room for a party, creating it on first join.
func (r *Registry) GetOrCreate(partyID domain.PartyID) *core.Room {
	r.mu.RLock()
	room, ok := r.rooms[partyID]
	r.mu.RUnlock()
	if ok {
		return room
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[partyID]; ok {
		return room
	}
	room = core.NewRoom(partyID)
	r.rooms[partyID] = room
	log.Info().Str("module", "app.registry").Str("party_id", string(partyID)).Msg("room created")
	return room
}

// Room returns the live room, if the party has any presence.
func (r *Registry) Room(partyID domain.PartyID) (*core.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[partyID]
	return room, ok
}

// Bind associates a handle with a party.
func (r *Registry) Bind(h core.HandleID, partyID domain.PartyID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h] = partyID
}

// Unbind drops the handle association.
func (r *Registry) Unbind(h core.HandleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, h)
}

// PartyOf resolves a handle to its party.
func (r *Registry) PartyOf(h core.HandleID) (domain.PartyID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	partyID, ok := r.handles[h]
	return partyID, ok
}

// DropRoomIfEmpty garbage-collects the room only while it is still
// empty. The seal runs under the registry lock, so a concurrent join
// either lands before the check (the room survives) or observes the
// sealed room and retries against a fresh lookup; no member can end up
// inside a room the registry no longer knows.
func (r *Registry) DropRoomIfEmpty(partyID domain.PartyID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[partyID]
	if !ok || !room.Seal() {
		return false
	}
	delete(r.rooms, partyID)
	log.Info().Str("module", "app.registry").Str("party_id", string(partyID)).Msg("room collected")
	return true
}

// DropRoom removes a room unconditionally; only for rooms already shut
// down, which refuse joins on their own.
func (r *Registry) DropRoom(partyID domain.PartyID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, partyID)
	log.Info().Str("module", "app.registry").Str("party_id", string(partyID)).Msg("room dropped")
}

// RoomCount reports how many parties currently have live presence.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
