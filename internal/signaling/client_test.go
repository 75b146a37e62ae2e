package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testRelay is a minimal in-process relay: it accepts upgrades, records join
// announcements, and lets tests push messages or kill connections.
type testRelay struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	joins chan *Message
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{t: t, joins: make(chan *Message, 8)}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.server.Close)
	return r
}

func (r *testRelay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == MessageTypeJoin {
			r.joins <- &msg
		}
	}
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *testRelay) lastConn() *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return nil
	}
	return r.conns[len(r.conns)-1]
}

func (r *testRelay) waitJoin(t *testing.T) *Message {
	t.Helper()
	select {
	case msg := <-r.joins:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no join announcement received")
		return nil
	}
}

func TestConnectAnnouncesJoin(t *testing.T) {
	relay := newTestRelay(t)
	client := NewClient(relay.url(), "lobby", "alice")
	defer client.Close()

	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	join := relay.waitJoin(t)
	if join.Room != "lobby" || join.Username != "alice" {
		t.Errorf("bad join announcement: room=%s username=%s", join.Room, join.Username)
	}
}

func TestIncomingDelivered(t *testing.T) {
	relay := newTestRelay(t)
	client := NewClient(relay.url(), "lobby", "alice")
	defer client.Close()

	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.waitJoin(t)

	sent := &Message{Type: MessageTypeChat, Username: "bob", Content: "hello"}
	if err := relay.lastConn().WriteJSON(sent); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case got := <-client.Incoming():
		if got.Type != MessageTypeChat || got.Username != "bob" || got.Content != "hello" {
			t.Errorf("bad delivered message: %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestSendWhenClosedIsDropped(t *testing.T) {
	relay := newTestRelay(t)
	client := NewClient(relay.url(), "lobby", "alice")

	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.waitJoin(t)
	client.Close()

	// Must not panic or block.
	client.Send(&Message{Type: MessageTypeChat, Content: "into the void"})
	client.Close()
}

func TestSendBeforeConnectIsDropped(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws", "lobby", "alice")
	client.Send(&Message{Type: MessageTypeChat, Content: "too early"})
}

func TestConnectBadURL(t *testing.T) {
	client := NewClient("://not-a-url", "lobby", "alice")
	if err := client.Connect(); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestReconnectRejoinsWithBackoff(t *testing.T) {
	relay := newTestRelay(t)
	client := NewClient(relay.url(), "lobby", "alice")
	client.reconnectBase = 20 * time.Millisecond
	client.reconnectMax = 100 * time.Millisecond
	defer client.Close()

	var mu sync.Mutex
	var states []State
	client.SetStateFunc(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.waitJoin(t)

	// Kill the transport server-side; the client must redial and announce
	// the same room membership again.
	relay.lastConn().Close()

	rejoin := relay.waitJoin(t)
	if rejoin.Room != "lobby" || rejoin.Username != "alice" {
		t.Errorf("bad rejoin announcement: room=%s username=%s", rejoin.Room, rejoin.Username)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(states) >= 2
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != StateReconnecting || states[len(states)-1] != StateConnected {
		t.Errorf("expected reconnecting then connected, got %v", states)
	}
}

func TestCloseCancelsReconnect(t *testing.T) {
	relay := newTestRelay(t)
	client := NewClient(relay.url(), "lobby", "alice")
	// Wide enough that Close always lands inside the backoff window.
	client.reconnectBase = 500 * time.Millisecond

	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.waitJoin(t)

	// Drop the transport server-side, then close the client while the
	// reconnect is pending. No rejoin may arrive afterwards.
	relay.lastConn().Close()
	client.Close()

	select {
	case <-relay.joins:
		t.Fatal("unexpected rejoin after Close")
	case <-time.After(time.Second):
	}
}
