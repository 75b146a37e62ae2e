package signaling

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/poriamsz55/distork-cli/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// State reports relay connection transitions after the initial connect.
type State int

const (
	StateConnected State = iota
	StateReconnecting
)

// Client owns the single WebSocket connection to the relay. It announces the
// room and username on every (re)connect and delivers inbound messages on a
// single channel; the session's dispatch loop does the routing.
type Client struct {
	serverURL string
	room      string
	username  string

	// stateFunc, when set, observes reconnect transitions. Set before Connect.
	stateFunc func(State)

	reconnectBase time.Duration
	reconnectMax  time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	incoming  chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a relay client for one room membership.
func NewClient(serverURL, room, username string) *Client {
	return &Client{
		serverURL:     serverURL,
		room:          room,
		username:      username,
		reconnectBase: time.Second,
		reconnectMax:  30 * time.Second,
		incoming:      make(chan *Message, 32),
		done:          make(chan struct{}),
	}
}

// SetStateFunc registers the connection-state observer.
func (c *Client) SetStateFunc(fn func(State)) {
	c.stateFunc = fn
}

// Connect dials the relay, announces presence, and starts the read and ping
// loops. Call once per process; reconnects after a transport loss are
// scheduled internally.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Custom dialer with robust DNS lookup, falling back to public resolvers.
	dialer := *websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		resolvedIP, err := dns.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		return net.Dial(network, net.JoinHostPort(resolvedIP, port))
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.Send(&Message{Type: MessageTypeJoin, Room: c.room, Username: c.username})

	go c.readPump(conn)
	go c.pingLoop(conn)

	return nil
}

// Send serializes and transmits a message. Messages are dropped when the
// transport is not open; there is no send queue.
func (c *Client) Send(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		slog.Debug("relay not connected, dropping message", "type", msg.Type)
		return
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Debug("relay write failed", "type", msg.Type, "error", err)
	}
}

// Incoming returns the channel of inbound relay messages. The channel is
// never closed; it survives reconnects.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Close tears down the connection and cancels any pending reconnect.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			c.conn.Close()
		}
		c.connected = false
	})
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}

	slog.Warn("relay connection lost", "error", err)
	c.notify(StateReconnecting)
	go c.reconnectLoop()
}

// reconnectLoop redials with exponential backoff until it succeeds or the
// client is closed. A successful Connect resends the join announcement.
func (c *Client) reconnectLoop() {
	delay := c.reconnectBase
	for {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		if err := c.Connect(); err == nil {
			c.notify(StateConnected)
			return
		} else {
			slog.Debug("relay redial failed", "delay", delay, "error", err)
		}

		delay *= 2
		if delay > c.reconnectMax {
			delay = c.reconnectMax
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.conn != conn
			c.mu.Unlock()
			if stale {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) notify(s State) {
	if c.stateFunc != nil {
		c.stateFunc(s)
	}
}
