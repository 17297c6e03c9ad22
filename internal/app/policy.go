package app

import "github.com/pavelq/cowatch/internal/core"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	EvictMember
)

// Policy decides what happens to a handle whose send buffer overflowed
// during a fan-out.
type Policy interface {
	OnBackpressure(room *core.Room, h core.HandleID) BackpressureAction
}

// EvictSlowPolicy kicks slow consumers; a client that cannot drain
// presence and playback events is effectively unreachable and will
// reconnect through the normal rejoin path.
type EvictSlowPolicy struct{}

func (EvictSlowPolicy) OnBackpressure(*core.Room, core.HandleID) BackpressureAction {
	return EvictMember
}
