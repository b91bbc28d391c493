// Package session provides SessionProvider implementations: a WebSocket
// client for the relay and an in-process room.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/aegis/internal/relay"
	"github.com/user/aegis/internal/types"
)

var ErrClosed = errors.New("session closed")

// Config describes how to join a relay room.
type Config struct {
	// URL is the relay base, e.g. ws://127.0.0.1:8080.
	URL      string
	Room     types.RoomName
	Identity types.ParticipantID
	Kind     string
	Tracks   []string

	// Reconnect controls redialing after the connection drops. Zero
	// MaxAttempts disables reconnecting.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	Buffer int
	Logger *slog.Logger
}

func (c Config) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.URL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid relay url scheme %q", u.Scheme)
	}
	u.Path += "/rooms/" + string(c.Room) + "/ws"
	q := u.Query()
	q.Set("identity", string(c.Identity))
	if c.Kind != "" {
		q.Set("kind", c.Kind)
	}
	if len(c.Tracks) > 0 {
		q.Set("tracks", strings.Join(c.Tracks, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is a relay participant. It implements types.SessionProvider.
type Client struct {
	cfg      Config
	endpoint string
	logger   *slog.Logger

	state    atomic.Value // types.ConnectionState
	messages chan types.InboundMessage

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	rosterMu sync.RWMutex
	roster   []types.Participant

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Dial joins the relay room and starts reading frames.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	endpoint, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		logger:   logger.With("room", string(cfg.Room), "identity", string(cfg.Identity)),
		messages: make(chan types.InboundMessage, cfg.Buffer),
		done:     make(chan struct{}),
	}
	c.state.Store(types.StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.state.Store(types.StateDisconnected)
		return nil, err
	}
	c.setConn(conn)
	c.state.Store(types.StateConnected)

	c.wg.Add(1)
	go c.readLoop(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.messages)

	for {
		err := c.read(conn)
		select {
		case <-c.done:
			return
		default:
		}
		c.logger.Warn("relay connection lost", "error", err)

		conn = c.reconnect()
		if conn == nil {
			c.state.Store(types.StateDisconnected)
			return
		}
	}
}

// read consumes frames until the connection fails.
func (c *Client) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f, err := relay.ParseFrame(data)
		if err != nil {
			c.logger.Debug("ignoring relay frame", "error", err)
			continue
		}
		switch f.Kind {
		case relay.KindRoster:
			c.rosterMu.Lock()
			c.roster = f.Participants
			c.rosterMu.Unlock()
		case relay.KindData:
			msg := types.InboundMessage{
				Payload:    f.Payload,
				From:       f.From,
				Topic:      f.Topic,
				ReceivedAt: time.Now(),
			}
			select {
			case c.messages <- msg:
			case <-c.done:
				return ErrClosed
			}
		}
	}
}

func (c *Client) reconnect() *websocket.Conn {
	if c.cfg.MaxAttempts <= 0 {
		return nil
	}
	c.state.Store(types.StateReconnecting)
	delay := c.cfg.InitialDelay
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		t := time.NewTimer(delay)
		select {
		case <-c.done:
			t.Stop()
			return nil
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.setConn(conn)
			select {
			case <-c.done:
				conn.Close()
				return nil
			default:
			}
			c.state.Store(types.StateConnected)
			c.logger.Info("relay connection restored", "attempt", attempt)
			return conn
		}
		c.logger.Warn("relay reconnect failed", "attempt", attempt, "error", err)
		delay *= 2
		if delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
	}
	return nil
}

func (c *Client) State() types.ConnectionState {
	return c.state.Load().(types.ConnectionState)
}

// Messages returns the inbound stream. It is closed once the client is
// closed or gives up reconnecting.
func (c *Client) Messages() <-chan types.InboundMessage {
	return c.messages
}

// Publish sends payload to every other participant in the room. The relay
// transport is always reliable and ordered.
func (c *Client) Publish(ctx context.Context, payload []byte, opts types.PublishOptions) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.State() != types.StateConnected {
		return fmt.Errorf("publish: session %s", c.State())
	}
	data, err := relay.Frame{Kind: relay.KindData, Topic: opts.Topic, Payload: payload}.Marshal()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn := c.currentConn()
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Participants returns the latest roster, excluding this client.
func (c *Client) Participants() []types.Participant {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()
	out := make([]types.Participant, 0, len(c.roster))
	for _, p := range c.roster {
		if p.Identity != c.cfg.Identity {
			out = append(out, p)
		}
	}
	return out
}

// Close leaves the room and waits for the read loop to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.state.Store(types.StateDisconnected)
		conn := c.currentConn()
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
		c.wg.Wait()
	})
	return err
}
