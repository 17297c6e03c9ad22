// Package mesh runs on each client and maintains one negotiated media
// connection per unordered pair of participants: a full mesh. The
// newest joiner always initiates toward everyone already present, so no
// pair ever has two simultaneous initiators.
package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/proto"
)

// PairState is the per-pair negotiation state machine.
type PairState int

const (
	PairIdle PairState = iota
	PairNegotiating
	PairConnected
	PairClosed
)

func (s PairState) String() string {
	switch s {
	case PairIdle:
		return "idle"
	case PairNegotiating:
		return "negotiating"
	case PairConnected:
		return "connected"
	default:
		return "closed"
	}
}

// DefaultNegotiateTimeout bounds how long a pair may sit in
// PairNegotiating before the client gives up and retries once.
const DefaultNegotiateTimeout = 15 * time.Second

// Signaler sends an opaque payload to one peer, through the relay.
type Signaler interface {
	SendSignal(to core.HandleID, payload []byte) error
}

// MediaConn is one peer media connection. Implemented by PeerConn on
// top of pion; tests substitute fakes.
type MediaConn interface {
	Start(ctx context.Context) error
	CreateOffer() (string, error)
	AcceptOffer(sdp string) (answer string, err error)
	AcceptAnswer(sdp string) error
	AddRemoteCandidate(p Payload) error
	OnLocalCandidate(func(Payload))
	OnConnected(func())
	OnClosed(func())
	Close()
}

// MediaFactory builds the media connection for one peer. One local
// capture feeds every pair; the factory attaches it.
type MediaFactory func(peer core.HandleID) (MediaConn, error)

type pair struct {
	peer      core.HandleID
	state     PairState
	initiator bool
	retried   bool
	media     MediaConn
	timer     *time.Timer
}

// Coordinator owns all pair states for the local participant.
type Coordinator struct {
	self     core.HandleID
	signaler Signaler
	newMedia MediaFactory
	timeout  time.Duration

	mu     sync.Mutex
	pairs  map[core.HandleID]*pair
	closed bool
}

func New(self core.HandleID, s Signaler, f MediaFactory) *Coordinator {
	return &Coordinator{
		self:     self,
		signaler: s,
		newMedia: f,
		timeout:  DefaultNegotiateTimeout,
		pairs:    make(map[core.HandleID]*pair),
	}
}

// Bootstrap is called once with the roster snapshot from join. We are
// the newest joiner, so we initiate toward every existing participant.
func (m *Coordinator) Bootstrap(ctx context.Context, roster []core.RosterEntry) {
	for _, e := range roster {
		if e.Handle == m.self {
			continue
		}
		m.initiate(ctx, e.Handle)
	}
}

// OnPresenceChanged reacts to live roster changes. A newly joined peer
// will initiate toward us (it is the later joiner), so the passive side
// creates no pair entry until the first payload arrives. A departed
// peer closes its pair and releases the media resources.
func (m *Coordinator) OnPresenceChanged(handle core.HandleID, action string) {
	if handle == m.self {
		return
	}
	if action == proto.ActionLeft {
		m.closePair(handle)
	}
}

// OnSignal feeds a relayed payload into the pair state machine.
func (m *Coordinator) OnSignal(ctx context.Context, from core.HandleID, raw []byte) {
	p, err := DecodePayload(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("from", string(from)).Msg("bad payload")
		return
	}
	switch p.Kind {
	case KindOffer:
		m.handleOffer(ctx, from, p)
	case KindAnswer:
		m.handleAnswer(from, p)
	case KindCandidate:
		m.handleCandidate(from, p)
	default:
		log.Warn().Str("module", "mesh").Str("kind", p.Kind).Msg("unknown payload kind")
	}
}

// State reports the current state for one peer; PairIdle when no entry
// exists yet.
func (m *Coordinator) State(peer core.HandleID) PairState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pr, ok := m.pairs[peer]; ok {
		return pr.state
	}
	return PairIdle
}

// IsInitiator reports which side of the pair dials.
func (m *Coordinator) IsInitiator(peer core.HandleID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.pairs[peer]
	return ok && pr.initiator
}

// Close tears down every pair; used on leave and shutdown.
func (m *Coordinator) Close() {
	m.mu.Lock()
	m.closed = true
	peers := make([]core.HandleID, 0, len(m.pairs))
	for h := range m.pairs {
		peers = append(peers, h)
	}
	m.mu.Unlock()
	for _, h := range peers {
		m.closePair(h)
	}
}

func (m *Coordinator) initiate(ctx context.Context, peer core.HandleID) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, exists := m.pairs[peer]; exists {
		m.mu.Unlock()
		return
	}
	pr := &pair{peer: peer, state: PairIdle, initiator: true}
	m.pairs[peer] = pr
	m.mu.Unlock()

	m.startNegotiation(ctx, pr)
}

// startNegotiation builds the media connection and sends the offer.
// Media calls run outside the coordinator lock; their callbacks lock on
// re-entry.
func (m *Coordinator) startNegotiation(ctx context.Context, pr *pair) {
	media, err := m.newMedia(pr.peer)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(pr.peer)).Msg("media factory")
		m.setState(pr.peer, PairClosed)
		return
	}
	m.wire(ctx, pr.peer, media)

	m.mu.Lock()
	pr.media = media
	pr.state = PairNegotiating
	m.mu.Unlock()

	if err := media.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(pr.peer)).Msg("media start")
		m.failPair(ctx, pr.peer)
		return
	}
	offer, err := media.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(pr.peer)).Msg("create offer")
		m.failPair(ctx, pr.peer)
		return
	}
	m.sendPayload(pr.peer, Payload{Kind: KindOffer, SDP: offer})
	m.armTimer(ctx, pr.peer)
}

func (m *Coordinator) handleOffer(ctx context.Context, from core.HandleID, p Payload) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	pr, ok := m.pairs[from]
	if ok && pr.state == PairConnected {
		m.mu.Unlock()
		log.Debug().Str("module", "mesh").Str("peer", string(from)).Msg("offer on connected pair ignored")
		return
	}
	if !ok {
		pr = &pair{peer: from, state: PairIdle, initiator: false}
		m.pairs[from] = pr
	}
	m.mu.Unlock()

	media, err := m.newMedia(from)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("media factory")
		m.setState(from, PairClosed)
		return
	}
	m.wire(ctx, from, media)

	m.mu.Lock()
	if pr.media != nil {
		pr.media.Close()
	}
	pr.media = media
	pr.state = PairNegotiating
	m.mu.Unlock()

	if err := media.Start(ctx); err != nil {
		m.failPair(ctx, from)
		return
	}
	answer, err := media.AcceptOffer(p.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("accept offer")
		m.failPair(ctx, from)
		return
	}
	m.sendPayload(from, Payload{Kind: KindAnswer, SDP: answer})
	m.armTimer(ctx, from)
}

func (m *Coordinator) handleAnswer(from core.HandleID, p Payload) {
	m.mu.Lock()
	pr, ok := m.pairs[from]
	var media MediaConn
	if ok {
		media = pr.media
	}
	m.mu.Unlock()
	if !ok || media == nil {
		log.Debug().Str("module", "mesh").Str("peer", string(from)).Msg("answer without pair dropped")
		return
	}
	if err := media.AcceptAnswer(p.SDP); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("accept answer")
	}
}

func (m *Coordinator) handleCandidate(from core.HandleID, p Payload) {
	m.mu.Lock()
	pr, ok := m.pairs[from]
	var media MediaConn
	if ok {
		media = pr.media
	}
	m.mu.Unlock()
	if !ok || media == nil {
		log.Debug().Str("module", "mesh").Str("peer", string(from)).Msg("candidate without pair dropped")
		return
	}
	if err := media.AddRemoteCandidate(p); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("add candidate")
	}
}

func (m *Coordinator) wire(ctx context.Context, peer core.HandleID, media MediaConn) {
	media.OnLocalCandidate(func(p Payload) {
		m.sendPayload(peer, p)
	})
	media.OnConnected(func() {
		m.markConnected(peer)
	})
	media.OnClosed(func() {
		// A hard error mid-negotiation goes through the retry path;
		// losing an established connection is terminal for the pair.
		if m.State(peer) == PairNegotiating {
			m.failPair(ctx, peer)
			return
		}
		m.closePair(peer)
	})
}

func (m *Coordinator) sendPayload(peer core.HandleID, p Payload) {
	if err := m.signaler.SendSignal(peer, p.Encode()); err != nil {
		// Loss is expected mid-disconnect; the timer path re-derives.
		log.Debug().Err(err).Str("module", "mesh").Str("peer", string(peer)).Msg("signal send failed")
	}
}

func (m *Coordinator) markConnected(peer core.HandleID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.pairs[peer]
	if !ok || pr.state == PairClosed {
		return
	}
	pr.state = PairConnected
	if pr.timer != nil {
		pr.timer.Stop()
		pr.timer = nil
	}
	log.Info().Str("module", "mesh").Str("peer", string(peer)).Msg("pair connected")
}

// armTimer bounds the negotiation wait; on expiry the pair fails and
// gets its single retry.
func (m *Coordinator) armTimer(ctx context.Context, peer core.HandleID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.pairs[peer]
	if !ok || pr.state != PairNegotiating {
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	pr.timer = time.AfterFunc(m.timeout, func() {
		m.failPair(ctx, peer)
	})
}

// failPair handles a stuck or errored negotiation: tear the media down
// and re-attempt exactly once, as if the peer had just (re)joined. The
// passive side resets to idle and waits for a fresh offer instead.
func (m *Coordinator) failPair(ctx context.Context, peer core.HandleID) {
	m.mu.Lock()
	pr, ok := m.pairs[peer]
	if !ok || pr.state == PairConnected || pr.state == PairClosed {
		m.mu.Unlock()
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
		pr.timer = nil
	}
	media := pr.media
	pr.media = nil
	if pr.retried {
		pr.state = PairClosed
		m.mu.Unlock()
		if media != nil {
			media.Close()
		}
		log.Warn().Str("module", "mesh").Str("peer", string(peer)).Msg("negotiation failed twice, pair closed")
		return
	}
	pr.retried = true
	pr.state = PairIdle
	initiator := pr.initiator
	m.mu.Unlock()

	if media != nil {
		media.Close()
	}
	log.Info().Str("module", "mesh").Str("peer", string(peer)).Bool("initiator", initiator).Msg("negotiation retry")
	if initiator {
		m.startNegotiation(ctx, pr)
	}
}

// closePair releases the pair terminally: peer left, media closed, or
// local shutdown.
func (m *Coordinator) closePair(peer core.HandleID) {
	m.mu.Lock()
	pr, ok := m.pairs[peer]
	if !ok || pr.state == PairClosed {
		m.mu.Unlock()
		return
	}
	pr.state = PairClosed
	if pr.timer != nil {
		pr.timer.Stop()
		pr.timer = nil
	}
	media := pr.media
	pr.media = nil
	m.mu.Unlock()

	if media != nil {
		media.Close()
	}
	log.Info().Str("module", "mesh").Str("peer", string(peer)).Msg("pair closed")
}

func (m *Coordinator) setState(peer core.HandleID, s PairState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pr, ok := m.pairs[peer]; ok {
		pr.state = s
	}
}
