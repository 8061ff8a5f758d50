package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rojcall/internal/config"
	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/util"
)

// ErrNotConnected is returned by Send and Notify while the client is
// reconnecting.
var ErrNotConnected = errors.New("signaling: not connected")

const (
	initialBackoff = 500 * time.Millisecond
	writeTimeout   = 10 * time.Second
)

// Client is one user's connection to the hub. It reconnects with exponential
// backoff until its context ends or Close is called.
type Client struct {
	cfg    config.PeerConfig
	dialer *websocket.Dialer

	writeMu sync.Mutex // serializes writes to conn
	connMu  sync.RWMutex
	conn    *websocket.Conn

	subsMu         sync.Mutex
	subs           map[int]*subscription
	nextSub        int
	onNotification func(protocol.Notification)
	onError        func(string)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to the hub as cfg.UserID. The first connection attempt is
// synchronous; later reconnects happen in the background.
func Dial(ctx context.Context, cfg config.PeerConfig) (*Client, error) {
	if cfg.UserID == "" {
		return nil, errors.New("signaling: user id is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		subs:   make(map[int]*subscription),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	conn, err := c.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(conn)

	go c.watch(conn)
	return c, nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("user", c.cfg.UserID)
	u.RawQuery = q.Encode()

	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// Send delivers msg to the hub. An empty SenderID is filled with the client's
// user id.
func (c *Client) Send(ctx context.Context, msg protocol.Message) error {
	if msg.SenderID == "" {
		msg.SenderID = c.cfg.UserID
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.write(ctx, protocol.SignalFrame(msg))
}

// Notify delivers an advisory notification through the hub.
func (c *Client) Notify(ctx context.Context, n protocol.Notification) error {
	return c.write(ctx, protocol.NotificationFrame(n))
}

func (c *Client) write(ctx context.Context, f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Receiving
// ---------------------------------------------------------------------------

type subscription struct {
	ch   chan protocol.Message
	done chan struct{}
	once sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Subscribe returns an ordered channel of inbound signals. The channel is
// closed when the client stops for good.
func (c *Client) Subscribe() (<-chan protocol.Message, func()) {
	sub := &subscription{
		ch:   make(chan protocol.Message, mailboxSize),
		done: make(chan struct{}),
	}

	c.subsMu.Lock()
	select {
	case <-c.done:
		c.subsMu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	default:
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	c.subsMu.Unlock()

	return sub.ch, func() {
		sub.stop()
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// OnNotification registers fn for inbound notifications.
func (c *Client) OnNotification(fn func(protocol.Notification)) {
	c.subsMu.Lock()
	c.onNotification = fn
	c.subsMu.Unlock()
}

// OnError registers fn for error frames sent by the hub.
func (c *Client) OnError(fn func(string)) {
	c.subsMu.Lock()
	c.onError = fn
	c.subsMu.Unlock()
}

// watch reads frames from conn until it fails, then reconnects.
func (c *Client) watch(conn *websocket.Conn) {
	defer c.shutdownSubs()

	for {
		err := c.receive(conn)
		c.setConn(nil)
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		util.LogWarning("signaling connection lost: %v", err)

		conn = c.reconnect()
		if conn == nil {
			return
		}
		c.setConn(conn)
		util.LogSuccess("signaling reconnected")
	}
}

func (c *Client) receive(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			util.LogDebug("dropping malformed frame: %v", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameSignal:
			c.publish(*frame.Signal)
		case protocol.FrameNotification:
			c.subsMu.Lock()
			fn := c.onNotification
			c.subsMu.Unlock()
			if fn != nil {
				fn(*frame.Notification)
			}
		case protocol.FrameError:
			c.subsMu.Lock()
			fn := c.onError
			c.subsMu.Unlock()
			util.LogWarning("signaling server: %s", frame.Error)
			if fn != nil {
				fn(frame.Error)
			}
		case protocol.FramePing:
			_ = c.write(c.ctx, &protocol.Frame{Type: protocol.FramePong})
		}
	}
}

// publish fans msg out to every subscriber, waiting for slow ones.
func (c *Client) publish(msg protocol.Message) {
	c.subsMu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-c.ctx.Done():
			return
		}
	}
}

// reconnect retries with exponential backoff. Returns nil when the client
// context ends first.
func (c *Client) reconnect() *websocket.Conn {
	backoff := initialBackoff
	maxBackoff := c.cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	for {
		select {
		case <-time.After(backoff):
		case <-c.ctx.Done():
			return nil
		}

		conn, err := c.connect(c.ctx)
		if err == nil {
			return conn
		}
		util.LogDebug("reconnect in %s: %v", backoff, err)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) shutdownSubs() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	close(c.done)
	// publish runs on the watch goroutine too, so no send is in flight here.
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.ch)
	}
}

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Done is closed once the client has stopped for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops reconnecting and closes the connection.
func (c *Client) Close() error {
	c.cancel()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		err = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	<-c.done
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return err
}
