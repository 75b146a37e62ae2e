package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/poriamsz55/distork-cli/internal/call"
	"github.com/poriamsz55/distork-cli/internal/signaling"
)

var ErrMissingIdentity = errors.New("username and room are required")

// Relay is the signaling channel the session drives.
type Relay interface {
	Connect() error
	Send(*signaling.Message)
	Incoming() <-chan *signaling.Message
	Close()
}

// Capture is the local microphone stream held for the call's lifetime.
type Capture interface {
	Stop()
}

// Notifier receives user-facing session events.
type Notifier interface {
	Chat(username, content string)
	System(text string)
	Roster(users []string)
}

// Session orchestrates one room membership: it joins, routes every inbound
// relay message from a single dispatch loop, drives the link manager on
// membership changes, and tears everything down on End.
type Session struct {
	username string
	room     string

	relay   Relay
	mgr     *call.Manager
	openMic func() (Capture, error)
	notify  Notifier

	mu      sync.Mutex
	capture Capture
	roster  []string

	done    chan struct{}
	endOnce sync.Once
}

// New validates the identity and assembles a session. Empty username or room
// is rejected before any resource is touched.
func New(username, room string, relay Relay, engine call.Engine, openMic func() (Capture, error), notify Notifier) (*Session, error) {
	username = strings.TrimSpace(username)
	room = strings.TrimSpace(room)
	if username == "" || room == "" {
		return nil, ErrMissingIdentity
	}

	s := &Session{
		username: username,
		room:     room,
		relay:    relay,
		openMic:  openMic,
		notify:   notify,
		done:     make(chan struct{}),
	}
	s.mgr = call.NewManager(engine, s.sendSignal)
	return s, nil
}

// Join acquires the microphone, connects the relay, and starts the dispatch
// loop. Microphone failure is fatal to joining; nothing is connected then.
func (s *Session) Join() error {
	capture, err := s.openMic()
	if err != nil {
		return fmt.Errorf("microphone access: %w", err)
	}
	s.mu.Lock()
	s.capture = capture
	s.mu.Unlock()

	if err := s.relay.Connect(); err != nil {
		capture.Stop()
		return fmt.Errorf("connect relay: %w", err)
	}

	go s.run()
	return nil
}

// SendChat relays a transcript message to the room. The relay echoes it back
// to every member including us, so the transcript is appended on receipt.
func (s *Session) SendChat(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.relay.Send(&signaling.Message{
		Type:     signaling.MessageTypeChat,
		Room:     s.room,
		Username: s.username,
		Content:  text,
	})
}

// RelayState surfaces relay connection transitions as system notices.
func (s *Session) RelayState(state signaling.State) {
	switch state {
	case signaling.StateReconnecting:
		s.notify.System("Connection lost. Trying to reconnect...")
	case signaling.StateConnected:
		s.notify.System("Reconnected to the server")
	}
}

// End stops the capture, closes every peer link and sink, and closes the
// relay. Safe to call at any point, including before Join and repeatedly.
func (s *Session) End() {
	s.endOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		capture := s.capture
		s.mu.Unlock()
		if capture != nil {
			capture.Stop()
		}

		s.mgr.CloseAll()
		s.relay.Close()
	})
}

// Links exposes the link manager for state inspection.
func (s *Session) Links() *call.Manager {
	return s.mgr
}

// Roster returns the last received membership snapshot, excluding self.
func (s *Session) Roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roster...)
}

// run is the single dispatch loop; every mutation of membership and links is
// driven from here or from transport callbacks behind the manager's lock.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.relay.Incoming():
			s.dispatch(msg)
		}
	}
}

func (s *Session) dispatch(msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeChat:
		s.notify.Chat(msg.Username, msg.Content)

	case signaling.MessageTypeUserJoined:
		s.handleUserJoined(msg.Username)

	case signaling.MessageTypeUserLeft:
		s.handleUserLeft(msg.Username)

	case signaling.MessageTypeUserList:
		s.handleUserList(msg.Content)

	case signaling.MessageTypeSignal:
		s.mgr.HandleSignal(msg.Username, msg.Signal)

	default:
		slog.Debug("unhandled relay message", "type", msg.Type)
	}
}

// handleUserJoined calls the newcomer: the established side initiates.
func (s *Session) handleUserJoined(name string) {
	s.notify.System(name + " joined the room")
	if name == s.username {
		return
	}

	s.addRosterName(name)

	if err := s.mgr.CreateLink(name, true); err != nil {
		slog.Error("create link failed", "peer", name, "error", err)
	}
}

func (s *Session) handleUserLeft(name string) {
	s.notify.System(name + " left the room")
	s.mgr.CloseLink(name)
	s.removeRosterName(name)
}

// handleUserList recomputes the roster and fills in any missing links. The
// snapshot may repeat names already linked; CreateLink's idempotence makes
// that a no-op. This is also how a late joiner reaches everyone already
// present.
func (s *Session) handleUserList(content string) {
	users := signaling.ParseUserList(content)

	s.mu.Lock()
	s.roster = visibleRoster(users, s.username)
	roster := append([]string(nil), s.roster...)
	s.mu.Unlock()
	s.notify.Roster(roster)

	for _, user := range users {
		if user == s.username || s.mgr.Linked(user) {
			continue
		}
		if err := s.mgr.CreateLink(user, true); err != nil {
			slog.Error("create link failed", "peer", user, "error", err)
		}
	}
}

func (s *Session) sendSignal(target string, payload *signaling.SignalPayload) {
	raw, err := signaling.EncodeSignal(payload)
	if err != nil {
		slog.Error("encode signal failed", "peer", target, "error", err)
		return
	}
	s.relay.Send(&signaling.Message{
		Type:     signaling.MessageTypeSignal,
		Target:   target,
		Username: s.username,
		Signal:   raw,
	})
}

func (s *Session) addRosterName(name string) {
	s.mu.Lock()
	for _, existing := range s.roster {
		if existing == name {
			s.mu.Unlock()
			return
		}
	}
	s.roster = append(s.roster, name)
	roster := append([]string(nil), s.roster...)
	s.mu.Unlock()
	s.notify.Roster(roster)
}

func (s *Session) removeRosterName(name string) {
	s.mu.Lock()
	kept := s.roster[:0]
	for _, existing := range s.roster {
		if existing != name {
			kept = append(kept, existing)
		}
	}
	s.roster = kept
	roster := append([]string(nil), s.roster...)
	s.mu.Unlock()
	s.notify.Roster(roster)
}

func visibleRoster(users []string, self string) []string {
	visible := make([]string, 0, len(users))
	for _, user := range users {
		if user != self {
			visible = append(visible, user)
		}
	}
	return visible
}
