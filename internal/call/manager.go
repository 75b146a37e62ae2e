package call

import (
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/poriamsz55/distork-cli/internal/signaling"
)

// link is one negotiated connection to a remote participant.
type link struct {
	conn      Conn
	initiator bool
}

// Manager owns every peer link of a room session, keyed by participant name.
// It runs the offer/answer/candidate exchange per link and guarantees at most
// one link per participant: redundant creates degrade to no-ops, which is what
// makes the user_joined/user_list double trigger safe.
type Manager struct {
	engine Engine
	send   SendSignalFunc

	mu    sync.Mutex
	links map[string]*link
	sinks map[string]Sink
}

// NewManager creates a link manager emitting signals through send.
func NewManager(engine Engine, send SendSignalFunc) *Manager {
	return &Manager{
		engine: engine,
		send:   send,
		links:  make(map[string]*link),
		sinks:  make(map[string]Sink),
	}
}

// CreateLink establishes a connection toward target. If a link already
// exists it is left untouched. An initiator immediately offers; offer
// failures are logged and the link stays stored unnegotiated.
func (m *Manager) CreateLink(target string, initiator bool) error {
	m.mu.Lock()
	if _, ok := m.links[target]; ok {
		m.mu.Unlock()
		slog.Debug("peer link already exists", "peer", target)
		return nil
	}
	m.mu.Unlock()

	conn, err := m.engine.NewConn(m.observer(target))
	if err != nil {
		return NewPeerError("create link", target, err)
	}

	m.mu.Lock()
	if _, ok := m.links[target]; ok {
		// Lost the race against another create for the same peer.
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.links[target] = &link{conn: conn, initiator: initiator}
	m.mu.Unlock()

	slog.Debug("peer link created", "peer", target, "initiator", initiator)

	if initiator {
		offer, err := conn.CreateOffer()
		if err != nil {
			slog.Error("create offer failed", "peer", target, "error", err)
			return nil
		}
		m.send(target, &signaling.SignalPayload{Type: signaling.SignalTypeOffer, Offer: offer})
	}

	return nil
}

// HandleSignal processes one relayed negotiation payload from sender. Errors
// are logged and contained here: one bad signal never disturbs other links or
// later messages.
func (m *Manager) HandleSignal(sender, raw string) {
	payload, err := signaling.DecodeSignal(raw)
	if err != nil {
		slog.Error("decode signal failed", "peer", sender, "error", err)
		return
	}

	if err := m.dispatchSignal(sender, payload); err != nil {
		slog.Error("handle signal failed", "peer", sender, "type", payload.Type, "error", err)
	}
}

func (m *Manager) dispatchSignal(sender string, p *signaling.SignalPayload) error {
	switch p.Type {
	case signaling.SignalTypeOffer:
		return m.handleOffer(sender, p.Offer)
	case signaling.SignalTypeAnswer:
		return m.handleAnswer(sender, p.Answer)
	case signaling.SignalTypeCandidate:
		m.handleCandidate(sender, p.Candidate)
		return nil
	default:
		return WrapError("dispatch signal", ErrUnexpectedSignal, p.Type)
	}
}

func (m *Manager) handleOffer(sender string, offer *pion.SessionDescription) error {
	if offer == nil {
		return NewPeerError("handle offer", sender, ErrMalformedSignal)
	}

	if err := m.CreateLink(sender, false); err != nil {
		return err
	}

	ln := m.link(sender)
	if ln == nil {
		return NewPeerError("handle offer", sender, ErrMalformedSignal)
	}

	// Glare guard: with a local offer outstanding the first offer on the wire
	// wins and the reciprocal one is dropped. Re-checked here, at resume
	// time, because a signal for the same peer can arrive mid-negotiation.
	if !ln.conn.Stable() {
		slog.Debug("ignoring offer in non-stable state", "peer", sender)
		return nil
	}

	answer, err := ln.conn.CreateAnswer(offer)
	if err != nil {
		return NewPeerError("answer offer", sender, err)
	}

	m.send(sender, &signaling.SignalPayload{Type: signaling.SignalTypeAnswer, Answer: answer})
	return nil
}

func (m *Manager) handleAnswer(sender string, answer *pion.SessionDescription) error {
	if answer == nil {
		return NewPeerError("handle answer", sender, ErrMalformedSignal)
	}

	ln := m.link(sender)
	if ln == nil {
		slog.Debug("answer for unknown peer", "peer", sender)
		return nil
	}
	if ln.conn.Stable() {
		// Stale or duplicate answer; nothing is outstanding.
		slog.Debug("ignoring answer in stable state", "peer", sender)
		return nil
	}

	if err := ln.conn.ApplyAnswer(answer); err != nil {
		return NewPeerError("apply answer", sender, err)
	}
	return nil
}

// handleCandidate applies one remote candidate. Failures (such as arrival
// before the remote description) are logged per candidate and never abort
// the link.
func (m *Manager) handleCandidate(sender string, cand *pion.ICECandidateInit) {
	if cand == nil {
		slog.Debug("empty candidate payload", "peer", sender)
		return
	}

	ln := m.link(sender)
	if ln == nil {
		slog.Debug("candidate for unknown peer", "peer", sender)
		return
	}

	if err := ln.conn.AddICECandidate(*cand); err != nil {
		slog.Warn("add ice candidate failed", "peer", sender, "error", err)
	}
}

// CloseLink tears down the link and audio sink for target. No-op if absent.
func (m *Manager) CloseLink(target string) {
	m.mu.Lock()
	ln := m.links[target]
	delete(m.links, target)
	sink := m.sinks[target]
	delete(m.sinks, target)
	m.mu.Unlock()

	if ln != nil {
		if err := ln.conn.Close(); err != nil {
			slog.Debug("close link failed", "peer", target, "error", err)
		}
		slog.Debug("peer link closed", "peer", target)
	}
	if sink != nil {
		sink.Stop()
	}
}

// CloseAll tears down every stored link.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	targets := make([]string, 0, len(m.links))
	for target := range m.links {
		targets = append(targets, target)
	}
	m.mu.Unlock()

	for _, target := range targets {
		m.CloseLink(target)
	}
}

// Linked reports whether a link exists for target.
func (m *Manager) Linked(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[target]
	return ok
}

// Count returns the number of stored links.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *Manager) link(target string) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[target]
}

func (m *Manager) observer(target string) Observer {
	return Observer{
		OnCandidate: func(c pion.ICECandidateInit) {
			// Forwarded immediately, never batched.
			m.send(target, &signaling.SignalPayload{Type: signaling.SignalTypeCandidate, Candidate: &c})
		},
		OnTrack: func(s Sink) {
			m.attachSink(target, s)
		},
		OnStateChange: func(state pion.PeerConnectionState) {
			if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateClosed {
				m.CloseLink(target)
			}
		},
	}
}

// attachSink replaces the audio sink for target. Duplicate track events for
// the same participant replace the old sink instead of stacking.
func (m *Manager) attachSink(target string, s Sink) {
	m.mu.Lock()
	old := m.sinks[target]
	m.sinks[target] = s
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// HasSink reports whether an audio sink is attached for target.
func (m *Manager) HasSink(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sinks[target]
	return ok
}
