// Package core holds the in-memory primitives shared by the presence
// registry and the playback synchronizer: connection handles, the
// signaling transport abstraction and the per-party room.
package core

import "github.com/pavelq/cowatch/internal/domain"

// Frame is an encoded server->client message.
type Frame []byte

// HandleID identifies one live transport connection. A reconnecting
// client gets a fresh handle; the old one is evicted.
type HandleID string

// SignalConn abstracts the outbound half of a client connection.
// Owned by the adapter; the adapter must Close() it. TrySend never
// blocks: a full buffer reports backpressure instead.
type SignalConn interface {
	TrySend(Frame) error
	Close()
}

// RosterEntry is a read-only view of a live participant (no transport fields).
type RosterEntry struct {
	Handle      HandleID      `json:"handle"`
	UserID      domain.UserID `json:"user_id"`
	DisplayName string        `json:"display_name"`
}

// PublishResult reports delivery stats and backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []HandleID
}
