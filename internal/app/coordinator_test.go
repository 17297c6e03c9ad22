package app

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/domain"
	"github.com/pavelq/cowatch/internal/party"
	"github.com/pavelq/cowatch/internal/proto"
	"github.com/pavelq/cowatch/internal/store"
)

type fakeConn struct {
	frames []core.Frame
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	if f.full {
		return errors.New("buffer full")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func (f *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, fr := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(fr, &env); err != nil {
			t.Fatalf("bad frame %s: %v", fr, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func newCoordinator(t *testing.T, maxSize int) *Coordinator {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	parties := party.NewService(store.NewPartyStore(db))
	return NewCoordinator(NewRegistry(), parties, maxSize)
}

func createParty(t *testing.T, c *Coordinator, host domain.UserID, invitees ...domain.UserID) domain.PartyID {
	t.Helper()
	id, err := c.Parties.Create(context.Background(), host, "m42", invitees)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestJoinErrors(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice")

	t.Run("unknown party", func(t *testing.T) {
		_, err := c.Join(ctx, "h1", "nope", "alice", "Alice", &fakeConn{})
		if !errors.Is(err, domain.ErrPartyNotFound) {
			t.Fatalf("want ErrPartyNotFound, got %v", err)
		}
	})

	t.Run("not invited", func(t *testing.T) {
		_, err := c.Join(ctx, "h1", pid, "stranger", "S", &fakeConn{})
		if !errors.Is(err, domain.ErrNotInvited) {
			t.Fatalf("want ErrNotInvited, got %v", err)
		}
	})

	t.Run("ended party", func(t *testing.T) {
		if err := c.Parties.End(ctx, pid); err != nil {
			t.Fatal(err)
		}
		_, err := c.Join(ctx, "h1", pid, "alice", "Alice", &fakeConn{})
		if !errors.Is(err, domain.ErrPartyEnded) {
			t.Fatalf("want ErrPartyEnded, got %v", err)
		}
	})
}

func TestJoinPartyFull(t *testing.T) {
	c := newCoordinator(t, 2)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice", "bob")

	if _, err := c.Join(ctx, "h-host", pid, "host", "Host", &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Join(ctx, "h-alice", pid, "alice", "Alice", &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Join(ctx, "h-bob", pid, "bob", "Bob", &fakeConn{}); !errors.Is(err, domain.ErrPartyFull) {
		t.Fatalf("want ErrPartyFull, got %v", err)
	}
	// Rejoin of an already-present user is exempt from the cap.
	if _, err := c.Join(ctx, "h-alice-2", pid, "alice", "Alice", &fakeConn{}); err != nil {
		t.Fatalf("rejoin must bypass the cap, got %v", err)
	}
}

func TestJoinPresenceAndSnapshot(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice")

	hostConn := &fakeConn{}
	state, err := c.Join(ctx, "h-host", pid, "host", "Host", hostConn)
	if err != nil {
		t.Fatal(err)
	}
	if state.Self != "h-host" || len(state.Roster) != 1 || state.Playback != nil {
		t.Fatalf("unexpected bootstrap state: %+v", state)
	}

	aliceConn := &fakeConn{}
	state, err = c.Join(ctx, "h-alice", pid, "alice", "Alice", aliceConn)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Roster) != 2 {
		t.Fatalf("want 2 roster entries, got %d", len(state.Roster))
	}
	if got := hostConn.types(t); len(got) != 1 || got[0] != proto.TypePresenceChanged {
		t.Fatalf("host must see presence_changed, got %v", got)
	}
	if len(aliceConn.frames) != 0 {
		t.Fatalf("joiner must not receive its own presence, got %v", aliceConn.types(t))
	}
}

func TestRejoinSupersedesAndCloses(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice")

	old := &fakeConn{}
	if _, err := c.Join(ctx, "h-old", pid, "alice", "Alice", old); err != nil {
		t.Fatal(err)
	}
	fresh := &fakeConn{}
	if _, err := c.Join(ctx, "h-new", pid, "alice", "Alice", fresh); err != nil {
		t.Fatal(err)
	}

	if got := old.types(t); len(got) != 1 || got[0] != proto.TypeSuperseded {
		t.Fatalf("old handle must be told it was superseded, got %v", got)
	}
	if !old.closed {
		t.Fatal("old conn must be closed")
	}
	if _, ok := c.Registry.PartyOf("h-old"); ok {
		t.Fatal("old handle must be unbound")
	}
	if pid2, ok := c.Registry.PartyOf("h-new"); !ok || pid2 != pid {
		t.Fatal("new handle must be bound")
	}
}

func TestJoinMovesHandleBetweenParties(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	p1 := createParty(t, c, "host1", "alice")
	p2 := createParty(t, c, "host2", "alice")

	host1Conn := &fakeConn{}
	if _, err := c.Join(ctx, "h-host1", p1, "host1", "Host1", host1Conn); err != nil {
		t.Fatal(err)
	}
	aliceConn := &fakeConn{}
	if _, err := c.Join(ctx, "h-alice", p1, "alice", "Alice", aliceConn); err != nil {
		t.Fatal(err)
	}
	host1Conn.frames = nil

	// Same handle joins another party without an explicit leave.
	if _, err := c.Join(ctx, "h-alice", p2, "alice", "Alice", aliceConn); err != nil {
		t.Fatal(err)
	}

	if pid, ok := c.Registry.PartyOf("h-alice"); !ok || pid != p2 {
		t.Fatalf("handle must be bound to the new party, got %q ok=%v", pid, ok)
	}
	room1, ok := c.Registry.Room(p1)
	if !ok {
		t.Fatal("old room must survive, its host is still present")
	}
	if _, still := room1.Resolve("h-alice"); still {
		t.Fatal("handle must not remain a member of the old room")
	}

	var left proto.PresenceChanged
	if err := json.Unmarshal(host1Conn.frames[0], &left); err != nil {
		t.Fatal(err)
	}
	if left.Type != proto.TypePresenceChanged || left.Action != proto.ActionLeft || left.UserID != "alice" {
		t.Fatalf("old party must see the departure, got %+v", left)
	}

	// Old-party traffic must not reach the moved handle anymore.
	aliceConn.frames = nil
	playing := true
	if _, err := c.SetPlayback("h-host1", domain.PlaybackUpdate{Playing: &playing}); err != nil {
		t.Fatal(err)
	}
	if len(aliceConn.frames) != 0 {
		t.Fatalf("moved handle must not receive old-party broadcasts, got %v", aliceConn.types(t))
	}
}

func TestSwitchCollectsEmptyOldRoom(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	p1 := createParty(t, c, "host1", "alice")
	p2 := createParty(t, c, "host2", "alice")

	conn := &fakeConn{}
	if _, err := c.Join(ctx, "h-alice", p1, "alice", "Alice", conn); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Join(ctx, "h-alice", p2, "alice", "Alice", conn); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Registry.Room(p1); ok {
		t.Fatal("emptied old room must be collected")
	}
	if c.Registry.RoomCount() != 1 {
		t.Fatalf("want 1 live room, got %d", c.Registry.RoomCount())
	}
}

func TestCollectedRoomNeverAcceptsMembers(t *testing.T) {
	reg := NewRegistry()
	stale := reg.GetOrCreate("p1")
	if !reg.DropRoomIfEmpty("p1") {
		t.Fatal("empty room must be collectable")
	}

	// A join racing against collection observes the sealed room and
	// retries; it can never land inside a room the registry dropped.
	if _, _, _, st := stale.Join(core.RosterEntry{Handle: "h-a", UserID: "alice"}, &fakeConn{}, 0, nil, nil); st != core.JoinRoomClosed {
		t.Fatalf("collected room must refuse joins, got %v", st)
	}

	fresh := reg.GetOrCreate("p1")
	if fresh == stale {
		t.Fatal("lookup after collection must build a fresh room")
	}
	if _, _, _, st := fresh.Join(core.RosterEntry{Handle: "h-a", UserID: "alice"}, &fakeConn{}, 0, nil, nil); st != core.JoinOK {
		t.Fatalf("fresh room must accept the retry, got %v", st)
	}
	if reg.DropRoomIfEmpty("p1") {
		t.Fatal("occupied room must survive collection attempts")
	}
	if _, ok := reg.Room("p1"); !ok {
		t.Fatal("occupied room must stay registered")
	}
}

func TestLeaveCollectsEmptyRoom(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice")

	hostConn := &fakeConn{}
	if _, err := c.Join(ctx, "h-host", pid, "host", "Host", hostConn); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Join(ctx, "h-alice", pid, "alice", "Alice", &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	hostConn.frames = nil

	c.Leave("h-alice")
	if got := hostConn.types(t); len(got) != 1 || got[0] != proto.TypePresenceChanged {
		t.Fatalf("host must see alice leave, got %v", got)
	}
	if c.Registry.RoomCount() != 1 {
		t.Fatal("room must survive while occupied")
	}

	c.Leave("h-host")
	if c.Registry.RoomCount() != 0 {
		t.Fatal("empty room must be collected")
	}
	// Unknown handle is a no-op.
	c.Leave("h-host")
}

func TestRoomStateDiscardedAfterLastLeave(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice")

	if _, err := c.Join(ctx, "h-host", pid, "host", "Host", &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	playing := true
	if _, err := c.SetPlayback("h-host", domain.PlaybackUpdate{Playing: &playing}); err != nil {
		t.Fatal(err)
	}
	c.Leave("h-host")

	state, err := c.Join(ctx, "h-host-2", pid, "host", "Host", &fakeConn{})
	if err != nil {
		t.Fatal(err)
	}
	if state.Playback != nil {
		t.Fatal("playback state must not survive an empty room")
	}
}

func TestRelay(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice")
	other := createParty(t, c, "eve", "mallory")

	hostConn := &fakeConn{}
	aliceConn := &fakeConn{}
	eveConn := &fakeConn{}
	if _, err := c.Join(ctx, "h-host", pid, "host", "Host", hostConn); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Join(ctx, "h-alice", pid, "alice", "Alice", aliceConn); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Join(ctx, "h-eve", other, "eve", "Eve", eveConn); err != nil {
		t.Fatal(err)
	}
	hostConn.frames, aliceConn.frames = nil, nil

	payload := json.RawMessage(`{"kind":"offer","sdp":"v=0"}`)

	if err := c.Relay("h-host", "h-alice", payload); err != nil {
		t.Fatal(err)
	}
	var sig proto.SignalReceived
	if err := json.Unmarshal(aliceConn.frames[0], &sig); err != nil {
		t.Fatal(err)
	}
	if sig.Type != proto.TypeSignalReceived || sig.FromHandle != "h-host" || string(sig.Payload) != string(payload) {
		t.Fatalf("unexpected relayed frame: %+v", sig)
	}
	if len(hostConn.frames) != 0 {
		t.Fatal("sender must not receive the relayed payload")
	}

	if err := c.Relay("h-ghost", "h-alice", payload); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("unknown sender: want ErrNotAuthorized, got %v", err)
	}
	if err := c.Relay("h-host", "h-eve", payload); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("cross-party relay: want ErrNotAuthorized, got %v", err)
	}
	if len(eveConn.frames) != 0 {
		t.Fatal("cross-party payload must not be delivered")
	}
	// A vanished target is dropped quietly.
	if err := c.Relay("h-host", "h-gone", payload); err != nil {
		t.Fatalf("vanished target must be silent, got %v", err)
	}
}

func TestSetPlayback(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice")

	hostConn := &fakeConn{}
	aliceConn := &fakeConn{}
	if _, err := c.Join(ctx, "h-host", pid, "host", "Host", hostConn); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Join(ctx, "h-alice", pid, "alice", "Alice", aliceConn); err != nil {
		t.Fatal(err)
	}
	hostConn.frames, aliceConn.frames = nil, nil

	if _, err := c.SetPlayback("h-host", domain.PlaybackUpdate{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty update: want ErrInvalidInput, got %v", err)
	}
	if _, err := c.SetPlayback("h-ghost", domain.PlaybackUpdate{Playing: new(bool)}); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("unknown handle: want ErrNotAuthorized, got %v", err)
	}

	playing := true
	pos := 12.5
	next, err := c.SetPlayback("h-host", domain.PlaybackUpdate{Playing: &playing, Position: &pos})
	if err != nil {
		t.Fatal(err)
	}
	if !next.Playing || next.Position != 12.5 {
		t.Fatalf("unexpected state: %+v", next)
	}

	var got proto.PlaybackChanged
	if err := json.Unmarshal(aliceConn.frames[0], &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != proto.TypePlaybackChanged || got.State.Position != 12.5 {
		t.Fatalf("unexpected broadcast: %+v", got)
	}
	if len(hostConn.frames) != 0 {
		t.Fatal("writer must not receive its own echo")
	}

	state, ok := c.Playback(pid)
	if !ok || state.Position != 12.5 {
		t.Fatalf("unexpected bootstrap read: %+v ok=%v", state, ok)
	}
}

func TestEndPartyBroadcastsAndTearsDown(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice")

	hostConn := &fakeConn{}
	aliceConn := &fakeConn{}
	if _, err := c.Join(ctx, "h-host", pid, "host", "Host", hostConn); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Join(ctx, "h-alice", pid, "alice", "Alice", aliceConn); err != nil {
		t.Fatal(err)
	}
	hostConn.frames, aliceConn.frames = nil, nil

	if err := c.EndParty(ctx, pid); err != nil {
		t.Fatal(err)
	}
	for name, conn := range map[string]*fakeConn{"host": hostConn, "alice": aliceConn} {
		if got := conn.types(t); len(got) != 1 || got[0] != proto.TypePartyEnded {
			t.Fatalf("%s must see party_ended, got %v", name, got)
		}
	}
	if c.Registry.RoomCount() != 0 {
		t.Fatal("room must be dropped")
	}
	if _, ok := c.Registry.PartyOf("h-host"); ok {
		t.Fatal("handles must be unbound")
	}

	p, err := c.Parties.Get(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusEnded {
		t.Fatalf("want ended, got %s", p.Status)
	}
}

func TestSlowConsumerEvicted(t *testing.T) {
	c := newCoordinator(t, 8)
	ctx := context.Background()
	pid := createParty(t, c, "host", "alice", "bob")

	if _, err := c.Join(ctx, "h-host", pid, "host", "Host", &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	slow := &fakeConn{full: true}
	if _, err := c.Join(ctx, "h-slow", pid, "alice", "Alice", slow); err != nil {
		t.Fatal(err)
	}

	// Bob's join fans presence out; the slow handle drops it and the
	// eviction policy removes it from the party.
	if _, err := c.Join(ctx, "h-bob", pid, "bob", "Bob", &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Registry.PartyOf("h-slow"); ok {
		t.Fatal("slow handle must be evicted")
	}
}
