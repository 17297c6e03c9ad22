package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pavelq/cowatch/internal/domain"
)

type fakeConn struct {
	frames []Frame
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(fr Frame) error {
	if f.full {
		return errors.New("buffer full")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func join(t *testing.T, r *Room, h HandleID, u domain.UserID) *fakeConn {
	t.Helper()
	c := &fakeConn{}
	_, _, _, st := r.Join(RosterEntry{Handle: h, UserID: u, DisplayName: string(u)}, c, 0,
		Frame(`{"type":"presence_changed"}`), Frame(`{"type":"superseded"}`))
	if st != JoinOK {
		t.Fatalf("join %s: got status %v", h, st)
	}
	return c
}

func TestJoinBroadcastExcludesJoiner(t *testing.T) {
	r := NewRoom("p1")
	a := join(t, r, "h-a", "alice")
	b := join(t, r, "h-b", "bob")

	if len(a.frames) != 1 {
		t.Fatalf("alice must see bob's presence, got %d frames", len(a.frames))
	}
	if len(b.frames) != 0 {
		t.Fatalf("joiner must not receive its own presence, got %d frames", len(b.frames))
	}
	if r.Len() != 2 {
		t.Fatalf("want 2 members, got %d", r.Len())
	}
}

func TestJoinSupersedesSameUser(t *testing.T) {
	r := NewRoom("p1")
	old := &fakeConn{}
	r.Join(RosterEntry{Handle: "h-old", UserID: "alice"}, old, 0, nil, nil)

	fresh := &fakeConn{}
	sup := Frame(`{"type":"superseded"}`)
	evicted, evictedConn, _, _ := r.Join(RosterEntry{Handle: "h-new", UserID: "alice"}, fresh, 0, nil, sup)

	if evicted != "h-old" || evictedConn != SignalConn(old) {
		t.Fatalf("old handle must be evicted, got %q", evicted)
	}
	if len(old.frames) != 1 || string(old.frames[0]) != string(sup) {
		t.Fatalf("old conn must receive the superseded frame, got %v", old.frames)
	}
	if r.Len() != 1 {
		t.Fatalf("want exactly one live handle, got %d", r.Len())
	}
	if _, ok := r.Resolve("h-old"); ok {
		t.Fatal("old handle must be gone")
	}
	if e, ok := r.Resolve("h-new"); !ok || e.UserID != "alice" {
		t.Fatalf("new handle must resolve to alice, got %+v ok=%v", e, ok)
	}
}

func TestLeave(t *testing.T) {
	r := NewRoom("p1")
	a := join(t, r, "h-a", "alice")
	join(t, r, "h-b", "bob")
	a.frames = nil

	presence := Frame(`{"type":"presence_changed","action":"left"}`)
	e, ok, empty := r.Leave("h-b", presence)
	if !ok || e.UserID != "bob" || empty {
		t.Fatalf("unexpected leave result: %+v ok=%v empty=%v", e, ok, empty)
	}
	if len(a.frames) != 1 {
		t.Fatalf("alice must see bob leave, got %d frames", len(a.frames))
	}

	_, ok, empty = r.Leave("h-a", presence)
	if !ok || !empty {
		t.Fatal("last leave must report the room empty")
	}

	// Leaving twice is harmless.
	if _, ok, _ := r.Leave("h-a", presence); ok {
		t.Fatal("second leave must be a no-op")
	}
}

func TestSendUnreachable(t *testing.T) {
	r := NewRoom("p1")
	full := &fakeConn{full: true}
	r.Join(RosterEntry{Handle: "h-a", UserID: "alice"}, full, 0, nil, nil)

	if err := r.Send("ghost", Frame(`{}`)); !errors.Is(err, domain.ErrPeerUnreachable) {
		t.Fatalf("missing handle: want ErrPeerUnreachable, got %v", err)
	}
	if err := r.Send("h-a", Frame(`{}`)); !errors.Is(err, domain.ErrPeerUnreachable) {
		t.Fatalf("full buffer: want ErrPeerUnreachable, got %v", err)
	}
}

func TestBroadcastReportsDropped(t *testing.T) {
	r := NewRoom("p1")
	a := join(t, r, "h-a", "alice")
	slow := &fakeConn{full: true}
	r.Join(RosterEntry{Handle: "h-slow", UserID: "carol"}, slow, 0, nil, nil)
	a.frames = nil

	res := r.Broadcast("h-b", Frame(`{}`))
	if res.SentTo != 1 {
		t.Fatalf("want 1 delivery, got %d", res.SentTo)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "h-slow" {
		t.Fatalf("slow handle must be reported, got %v", res.Dropped)
	}
}

func TestApplyPlaybackOrderAndEcho(t *testing.T) {
	r := NewRoom("p1")
	a := join(t, r, "h-a", "alice")
	b := join(t, r, "h-b", "bob")
	a.frames, b.frames = nil, nil

	encode := func(s domain.PlaybackState) Frame {
		f, _ := json.Marshal(s)
		return f
	}

	playing := true
	next, _ := r.ApplyPlayback("h-a", domain.PlaybackUpdate{Playing: &playing}, encode)
	if !next.Playing {
		t.Fatalf("unexpected state: %+v", next)
	}
	pos := 30.0
	r.ApplyPlayback("h-b", domain.PlaybackUpdate{Position: &pos}, encode)

	if len(a.frames) != 1 || len(b.frames) != 1 {
		t.Fatalf("sender must not receive its own echo: a=%d b=%d", len(a.frames), len(b.frames))
	}

	var got domain.PlaybackState
	if err := json.Unmarshal(a.frames[0], &got); err != nil {
		t.Fatal(err)
	}
	// Bob's partial update merged onto Alice's write.
	if !got.Playing || got.Position != 30 {
		t.Fatalf("want merged state, got %+v", got)
	}

	state, ok := r.Playback()
	if !ok || state.Position != 30 || !state.Playing {
		t.Fatalf("unexpected room playback: %+v ok=%v", state, ok)
	}
}

func TestJoinEnforcesCap(t *testing.T) {
	r := NewRoom("p1")
	if _, _, _, st := r.Join(RosterEntry{Handle: "h-a", UserID: "alice"}, &fakeConn{}, 1, nil, nil); st != JoinOK {
		t.Fatalf("first join: got %v", st)
	}
	if _, _, _, st := r.Join(RosterEntry{Handle: "h-b", UserID: "bob"}, &fakeConn{}, 1, nil, nil); st != JoinRoomFull {
		t.Fatalf("over-cap join: want JoinRoomFull, got %v", st)
	}
	// A present user reconnecting is exempt from the cap.
	if _, _, _, st := r.Join(RosterEntry{Handle: "h-a2", UserID: "alice"}, &fakeConn{}, 1, nil, nil); st != JoinOK {
		t.Fatalf("rejoin: got %v", st)
	}
	if r.Len() != 1 {
		t.Fatalf("want 1 member, got %d", r.Len())
	}
}

func TestSealedRoomRefusesJoin(t *testing.T) {
	r := NewRoom("p1")
	if !r.Seal() {
		t.Fatal("empty room must seal")
	}
	if _, _, _, st := r.Join(RosterEntry{Handle: "h-a", UserID: "alice"}, &fakeConn{}, 0, nil, nil); st != JoinRoomClosed {
		t.Fatalf("want JoinRoomClosed, got %v", st)
	}

	occupied := NewRoom("p2")
	join(t, occupied, "h-a", "alice")
	if occupied.Seal() {
		t.Fatal("occupied room must not seal")
	}
}

func TestShutdown(t *testing.T) {
	r := NewRoom("p1")
	a := join(t, r, "h-a", "alice")
	b := join(t, r, "h-b", "bob")
	a.frames, b.frames = nil, nil

	ended := Frame(`{"type":"party_ended"}`)
	roster := r.Shutdown(ended)
	if len(roster) != 2 {
		t.Fatalf("want the full roster back, got %d", len(roster))
	}
	for _, c := range []*fakeConn{a, b} {
		if len(c.frames) != 1 || string(c.frames[0]) != string(ended) {
			t.Fatalf("every member must get the final frame, got %v", c.frames)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("room must be emptied, got %d members", r.Len())
	}
	if _, _, _, st := r.Join(RosterEntry{Handle: "h-c", UserID: "carol"}, &fakeConn{}, 0, nil, nil); st != JoinRoomClosed {
		t.Fatalf("shut-down room must refuse joins, got %v", st)
	}
}

func TestPlaybackUnsetUntilFirstWrite(t *testing.T) {
	r := NewRoom("p1")
	if _, ok := r.Playback(); ok {
		t.Fatal("fresh room must have no playback state")
	}
}
