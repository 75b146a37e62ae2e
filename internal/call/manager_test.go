package call

import (
	"errors"
	"sync"
	"testing"

	pion "github.com/pion/webrtc/v4"

	"github.com/poriamsz55/distork-cli/internal/signaling"
)

// fakeConn mimics the signaling-state behavior of a real connection: an
// outstanding local offer leaves it non-stable until an answer is applied.
type fakeConn struct {
	mu           sync.Mutex
	stable       bool
	offerSent    bool
	answered     bool
	applied      bool
	closed       bool
	candidates   []pion.ICECandidateInit
	offerErr     error
	answerErr    error
	candidateErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{stable: true}
}

func (c *fakeConn) CreateOffer() (*pion.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerErr != nil {
		return nil, c.offerErr
	}
	c.offerSent = true
	c.stable = false
	return &pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0\r\noffer"}, nil
}

func (c *fakeConn) CreateAnswer(offer *pion.SessionDescription) (*pion.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return nil, c.answerErr
	}
	c.answered = true
	return &pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0\r\nanswer"}, nil
}

func (c *fakeConn) ApplyAnswer(answer *pion.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = true
	c.stable = true
	return nil
}

func (c *fakeConn) AddICECandidate(init pion.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candidateErr != nil {
		return c.candidateErr
	}
	c.candidates = append(c.candidates, init)
	return nil
}

func (c *fakeConn) Stable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stable
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeEngine struct {
	mu        sync.Mutex
	conns     []*fakeConn
	observers []Observer
	connErr   error
	nextConn  *fakeConn
}

func (e *fakeEngine) NewConn(obs Observer) (Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connErr != nil {
		return nil, e.connErr
	}
	conn := e.nextConn
	if conn == nil {
		conn = newFakeConn()
	}
	e.nextConn = nil
	e.conns = append(e.conns, conn)
	e.observers = append(e.observers, obs)
	return conn, nil
}

func (e *fakeEngine) created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

type sentSignal struct {
	target  string
	payload *signaling.SignalPayload
}

type signalRecorder struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (r *signalRecorder) send(target string, payload *signaling.SignalPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentSignal{target: target, payload: payload})
}

func (r *signalRecorder) byType(signalType string) []sentSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []sentSignal
	for _, s := range r.sent {
		if s.payload.Type == signalType {
			matched = append(matched, s)
		}
	}
	return matched
}

type fakeSink struct {
	mu      sync.Mutex
	stopped bool
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func newTestManager() (*Manager, *fakeEngine, *signalRecorder) {
	engine := &fakeEngine{}
	rec := &signalRecorder{}
	return NewManager(engine, rec.send), engine, rec
}

func encodeSignal(t *testing.T, payload *signaling.SignalPayload) string {
	t.Helper()
	raw, err := signaling.EncodeSignal(payload)
	if err != nil {
		t.Fatalf("encode signal: %v", err)
	}
	return raw
}

func offerSignal(t *testing.T) string {
	t.Helper()
	return encodeSignal(t, &signaling.SignalPayload{
		Type:  signaling.SignalTypeOffer,
		Offer: &pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0\r\nremote-offer"},
	})
}

func answerSignal(t *testing.T) string {
	t.Helper()
	return encodeSignal(t, &signaling.SignalPayload{
		Type:   signaling.SignalTypeAnswer,
		Answer: &pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0\r\nremote-answer"},
	})
}

func candidateSignal(t *testing.T) string {
	t.Helper()
	return encodeSignal(t, &signaling.SignalPayload{
		Type:      signaling.SignalTypeCandidate,
		Candidate: &pion.ICECandidateInit{Candidate: "candidate:123"},
	})
}

func TestCreateLinkIdempotent(t *testing.T) {
	m, engine, rec := newTestManager()

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}
	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("redundant create: %v", err)
	}
	if err := m.CreateLink("bob", false); err != nil {
		t.Fatalf("redundant create with responder flag: %v", err)
	}

	if engine.created() != 1 {
		t.Errorf("expected 1 connection, got %d", engine.created())
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 link, got %d", m.Count())
	}
	if offers := rec.byType(signaling.SignalTypeOffer); len(offers) != 1 {
		t.Errorf("expected exactly 1 offer sent, got %d", len(offers))
	}
}

func TestInitiatorSendsOffer(t *testing.T) {
	m, engine, rec := newTestManager()

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}

	offers := rec.byType(signaling.SignalTypeOffer)
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(offers))
	}
	if offers[0].target != "bob" {
		t.Errorf("expected offer target bob, got %s", offers[0].target)
	}
	if offers[0].payload.Offer == nil {
		t.Error("expected offer payload to carry a description")
	}
	if engine.conns[0].Stable() {
		t.Error("expected link to be non-stable with offer outstanding")
	}
}

func TestResponderDoesNotOffer(t *testing.T) {
	m, _, rec := newTestManager()

	if err := m.CreateLink("bob", false); err != nil {
		t.Fatalf("create link: %v", err)
	}

	if len(rec.sent) != 0 {
		t.Errorf("expected no signals from responder create, got %d", len(rec.sent))
	}
}

func TestIncomingOfferCreatesResponderLink(t *testing.T) {
	m, engine, rec := newTestManager()

	m.HandleSignal("alice", offerSignal(t))

	if !m.Linked("alice") {
		t.Fatal("expected link for alice")
	}
	if engine.created() != 1 {
		t.Fatalf("expected 1 connection, got %d", engine.created())
	}
	if !engine.conns[0].answered {
		t.Error("expected remote offer to be answered")
	}

	answers := rec.byType(signaling.SignalTypeAnswer)
	if len(answers) != 1 || answers[0].target != "alice" {
		t.Fatalf("expected 1 answer to alice, got %v", answers)
	}
}

func TestGlareReciprocalOfferIgnored(t *testing.T) {
	m, engine, rec := newTestManager()

	// We called bob first; our offer is outstanding.
	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}

	// Bob's simultaneous offer arrives. First offer wins: ours.
	m.HandleSignal("bob", offerSignal(t))

	if engine.created() != 1 {
		t.Errorf("expected no second connection, got %d", engine.created())
	}
	if engine.conns[0].answered {
		t.Error("expected reciprocal offer to be ignored, but it was answered")
	}
	if answers := rec.byType(signaling.SignalTypeAnswer); len(answers) != 0 {
		t.Errorf("expected no answer during glare, got %d", len(answers))
	}

	// Bob's answer to our offer still completes the link.
	m.HandleSignal("bob", answerSignal(t))
	if !engine.conns[0].applied {
		t.Error("expected answer to be applied after glare")
	}
	if !engine.conns[0].Stable() {
		t.Error("expected link to converge to stable")
	}
}

func TestAnswerApplied(t *testing.T) {
	m, engine, _ := newTestManager()

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}
	m.HandleSignal("bob", answerSignal(t))

	if !engine.conns[0].applied {
		t.Error("expected answer to be applied")
	}
}

func TestStaleAnswerIgnored(t *testing.T) {
	m, engine, _ := newTestManager()

	// Responder link: stable, nothing outstanding.
	if err := m.CreateLink("bob", false); err != nil {
		t.Fatalf("create link: %v", err)
	}
	m.HandleSignal("bob", answerSignal(t))

	if engine.conns[0].applied {
		t.Error("expected stale answer to be ignored in stable state")
	}
}

func TestAnswerForUnknownPeerIgnored(t *testing.T) {
	m, engine, _ := newTestManager()

	m.HandleSignal("ghost", answerSignal(t))

	if engine.created() != 0 {
		t.Errorf("expected no connection for unknown answer, got %d", engine.created())
	}
}

func TestCandidateForUnknownPeerIgnored(t *testing.T) {
	m, engine, _ := newTestManager()

	// Candidate before any offer/answer for this peer must not crash and
	// must not create state.
	m.HandleSignal("alice", candidateSignal(t))

	if engine.created() != 0 {
		t.Errorf("expected no connection, got %d", engine.created())
	}

	// The deferred offer still negotiates normally afterwards.
	m.HandleSignal("alice", offerSignal(t))
	if !m.Linked("alice") {
		t.Error("expected later offer to create the link")
	}
}

func TestCandidateApplied(t *testing.T) {
	m, engine, _ := newTestManager()

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}
	m.HandleSignal("bob", candidateSignal(t))

	if len(engine.conns[0].candidates) != 1 {
		t.Errorf("expected 1 applied candidate, got %d", len(engine.conns[0].candidates))
	}
}

func TestCandidateErrorDoesNotAbortLink(t *testing.T) {
	m, engine, _ := newTestManager()
	engine.nextConn = newFakeConn()
	engine.nextConn.candidateErr = errors.New("remote description not set")

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}

	m.HandleSignal("bob", candidateSignal(t))
	m.HandleSignal("bob", candidateSignal(t))

	if !m.Linked("bob") {
		t.Error("expected link to survive candidate failures")
	}

	// Later signals for the same peer keep working.
	m.HandleSignal("bob", answerSignal(t))
	if !engine.conns[0].applied {
		t.Error("expected answer to be applied after candidate failures")
	}
}

func TestMalformedSignalContained(t *testing.T) {
	m, engine, _ := newTestManager()

	m.HandleSignal("alice", "{not json")
	m.HandleSignal("alice", encodeSignal(t, &signaling.SignalPayload{Type: "renegotiate"}))

	if engine.created() != 0 {
		t.Errorf("expected no connections from bad signals, got %d", engine.created())
	}

	// Processing continues for subsequent valid signals.
	m.HandleSignal("alice", offerSignal(t))
	if !m.Linked("alice") {
		t.Error("expected valid offer to be handled after bad signals")
	}
}

func TestOfferFailureLeavesLinkUsable(t *testing.T) {
	m, engine, rec := newTestManager()
	engine.nextConn = newFakeConn()
	engine.nextConn.offerErr = errors.New("codec mismatch")

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link should not fail on offer error: %v", err)
	}

	if !m.Linked("bob") {
		t.Error("expected link to remain stored after offer failure")
	}
	if len(rec.sent) != 0 {
		t.Errorf("expected no signal after offer failure, got %d", len(rec.sent))
	}
}

func TestCloseLinkIdempotent(t *testing.T) {
	m, engine, _ := newTestManager()

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}
	engine.observers[0].OnTrack(&fakeSink{})

	m.CloseLink("bob")
	m.CloseLink("bob")
	m.CloseLink("never-existed")

	if m.Linked("bob") {
		t.Error("expected link removed")
	}
	if !engine.conns[0].closed {
		t.Error("expected connection closed")
	}
	if m.HasSink("bob") {
		t.Error("expected sink removed")
	}
}

func TestCloseAll(t *testing.T) {
	m, engine, _ := newTestManager()

	for _, peer := range []string{"bob", "carol", "dave"} {
		if err := m.CreateLink(peer, true); err != nil {
			t.Fatalf("create link %s: %v", peer, err)
		}
	}

	m.CloseAll()
	m.CloseAll()

	if m.Count() != 0 {
		t.Errorf("expected 0 links, got %d", m.Count())
	}
	for i, conn := range engine.conns {
		if !conn.closed {
			t.Errorf("expected connection %d closed", i)
		}
	}
}

func TestDuplicateTrackReplacesSink(t *testing.T) {
	m, engine, _ := newTestManager()

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}

	first := &fakeSink{}
	second := &fakeSink{}
	engine.observers[0].OnTrack(first)
	engine.observers[0].OnTrack(second)

	if !first.stopped {
		t.Error("expected first sink stopped on duplicate track")
	}
	if second.stopped {
		t.Error("expected second sink still playing")
	}
	if !m.HasSink("bob") {
		t.Error("expected a sink attached")
	}
}

func TestDiscoveredCandidateForwarded(t *testing.T) {
	m, engine, rec := newTestManager()

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}

	engine.observers[0].OnCandidate(pion.ICECandidateInit{Candidate: "candidate:500"})
	engine.observers[0].OnCandidate(pion.ICECandidateInit{Candidate: "candidate:501"})

	candidates := rec.byType(signaling.SignalTypeCandidate)
	if len(candidates) != 2 {
		t.Fatalf("expected 2 forwarded candidates, got %d", len(candidates))
	}
	for _, c := range candidates {
		if c.target != "bob" {
			t.Errorf("expected candidate target bob, got %s", c.target)
		}
	}
}

func TestFailedConnectionClosesLink(t *testing.T) {
	m, engine, _ := newTestManager()

	if err := m.CreateLink("bob", true); err != nil {
		t.Fatalf("create link: %v", err)
	}

	engine.observers[0].OnStateChange(pion.PeerConnectionStateFailed)

	if m.Linked("bob") {
		t.Error("expected failed link to be torn down")
	}
	if !engine.conns[0].closed {
		t.Error("expected failed connection closed")
	}
}
